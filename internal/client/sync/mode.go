package sync

import (
	"fmt"
)

// Mode режим синхронизации файла
type Mode string

const (
	// ModeEnabled полная синхронизация с relay-сервером
	ModeEnabled Mode = "enabled"
	// ModeOffline журнал и дерево ведутся, но сеть не используется
	ModeOffline Mode = "offline"
	// ModeDisabled изменения применяются к хранилищу без журнала
	ModeDisabled Mode = "disabled"
	// ModeImport быстрая загрузка: прямая запись без журнала и подписчиков
	ModeImport Mode = "import"
)

// ParseMode разбирает имя режима
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeEnabled, ModeOffline, ModeDisabled, ModeImport:
		return m, nil
	}
	return "", fmt.Errorf("unknown syncing mode %q", s)
}

// tracksHistory сообщает, что сообщения пишутся в журнал и дерево
func (m Mode) tracksHistory() bool {
	return m == ModeEnabled || m == ModeOffline
}

// reachesRelay сообщает, что разрешен обмен с сервером
func (m Mode) reachesRelay() bool {
	return m == ModeEnabled
}

// State состояние сессии синхронизации
type State int32

const (
	StateIdle State = iota
	StateSending
	StateAwaitingResponse
	StateApplying
	StateDiffing
	StateConverged
	StateRetrying
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateAwaitingResponse:
		return "awaiting-response"
	case StateApplying:
		return "applying"
	case StateDiffing:
		return "diffing"
	case StateConverged:
		return "converged"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}
