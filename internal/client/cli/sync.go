package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	clientapi "github.com/iudanet/ledgersync/internal/client/api"
	"github.com/iudanet/ledgersync/internal/client/sync"
	"github.com/iudanet/ledgersync/pkg/api"
)

var (
	// ErrKeyLocked ключ зашифрованного файла не загружен
	ErrKeyLocked = errors.New("file is encrypted and its key is locked, run 'ledgersync key unlock'")
	// ErrSyncOff режим синхронизации не разрешает обмен с сервером
	ErrSyncOff = errors.New("sync with the server is turned off")
)

func newSyncCommand(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Exchange changes with the relay server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := r.syncNow(cmd)
			if errors.Is(err, ErrSyncOff) {
				r.io.Printf("Sync mode is %s, nothing was sent to the server\n", r.cfg.SyncMode)
				return nil
			}
			if err != nil {
				return err
			}
			r.io.Printf("✓ Synced in %d round(s), received %d change(s)\n", result.Rounds, len(result.Messages))
			for _, table := range result.Tables {
				r.io.Printf("  updated %s\n", table)
			}
			return nil
		},
	}
}

func newRepairCommand(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Rebuild the merkle tree from the local message log",
		Long: "Rebuilds the merkle tree from the local message log. Use it when\n" +
			"sync reports that the file is out of sync.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := r.app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			result, err := engine.Repair(cmd.Context())
			if err != nil {
				return err
			}

			if !result.Changed() {
				r.io.Printf("Merkle tree is consistent with %d message(s)\n", result.Messages)
				return nil
			}
			r.io.Printf("✓ Merkle tree rebuilt from %d message(s): %d -> %d\n",
				result.Messages, result.OldHash, result.NewHash)
			return nil
		},
	}
}

func newResetCommand(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset sync history on the server and upload this copy",
		Long: "Drops the file's sync history on the relay server and uploads the\n" +
			"local copy as the new baseline. Other devices have to download\n" +
			"the file again.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cp, err := r.app.Checkpoint(ctx)
			if err != nil {
				return err
			}
			if err := r.requireSession(cmd); err != nil {
				return err
			}
			engine, err := r.app.Engine(ctx)
			if err != nil {
				return err
			}

			groupID, err := r.app.API().ResetFile(ctx, cp.FileID)
			if err != nil {
				return err
			}
			if err := engine.ResetGroup(ctx, groupID); err != nil {
				return err
			}
			r.io.Printf("✓ Sync history reset, new group %s\n", groupID)

			result, err := r.syncNow(cmd)
			if err != nil {
				return err
			}
			r.io.Printf("✓ Uploaded in %d round(s)\n", result.Rounds)
			return nil
		},
	}
}

// syncNow выполняет полную синхронизацию текущего файла
func (r *root) syncNow(cmd *cobra.Command) (*sync.SyncResult, error) {
	ctx := cmd.Context()

	cp, err := r.app.Checkpoint(ctx)
	if err != nil {
		return nil, err
	}
	if r.cfg.SyncMode != string(sync.ModeEnabled) {
		return nil, fmt.Errorf("%w (sync-mode %s)", ErrSyncOff, r.cfg.SyncMode)
	}
	if err := r.requireSession(cmd); err != nil {
		return nil, err
	}
	engine, err := r.app.Engine(ctx)
	if err != nil {
		return nil, err
	}
	if cp.KeyID != "" && !r.app.keyring.Has(cp.KeyID) {
		return nil, ErrKeyLocked
	}

	result, err := engine.FullSync(ctx)
	if err != nil {
		return nil, explainSyncError(err, cp.FileID)
	}
	return result, nil
}

// explainSyncError добавляет к ошибке синхронизации следующий шаг
func explainSyncError(err error, fileID string) error {
	var outOfSync *sync.OutOfSyncError
	switch {
	case clientapi.IsPostReason(err, api.ReasonFileHasReset):
		return fmt.Errorf("%w: the file was reset on another device, "+
			"download it again with 'ledgersync file use %s' in an empty data dir", err, fileID)
	case clientapi.IsPostReason(err, api.ReasonFileHasNewKey):
		return fmt.Errorf("%w: the file key was changed, run 'ledgersync key unlock'", err)
	case clientapi.IsPostReason(err, api.ReasonFileNotFound):
		return fmt.Errorf("%w: the file was deleted on the server", err)
	case errors.As(err, &outOfSync):
		return fmt.Errorf("%w: run 'ledgersync repair' and sync again", err)
	}
	return err
}
