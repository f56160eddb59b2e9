package sync

// ScheduleFullSync планирует синхронизацию через SyncDelay.
// Повторный вызов перезапускает таймер, так что серия правок
// дает один обмен с сервером.
func (e *Engine) ScheduleFullSync() {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()

	// старый таймер останавливается и новый ставится под одной блокировкой
	e.stopTimerLocked()

	if e.closed.Load() || !e.Mode().reachesRelay() {
		return
	}

	e.timer = e.wall.AfterFunc(e.cfg.SyncDelay, func() {
		if _, err := e.FullSync(e.baseCtx); err != nil {
			e.logger.Warn("Scheduled sync failed", "error", err)
		}
	})
}

// CancelScheduledSync отменяет запланированную синхронизацию
func (e *Engine) CancelScheduledSync() {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()

	e.stopTimerLocked()
}

func (e *Engine) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}
