package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/ledgersync/internal/client/storage"
)

func newStatusCommand(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session, file binding and sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			prefs, err := r.app.Prefs(ctx)
			if err != nil {
				return err
			}

			r.io.Println("=== Session ===")
			session, err := prefs.GetAuth(ctx)
			switch {
			case errors.Is(err, storage.ErrAuthNotFound):
				r.io.Println("Not logged in. Run 'ledgersync login'.")
			case err != nil:
				return err
			default:
				expiresAt := time.Unix(session.ExpiresAt, 0)
				r.io.Printf("Username: %s\n", session.Username)
				r.io.Printf("Server:   %s\n", session.ServerURL)
				if remaining := time.Until(expiresAt); remaining > 0 {
					r.io.Printf("Token expires in %s\n", remaining.Round(time.Second))
				} else {
					r.io.Println("Access token expired, it is refreshed on the next sync")
				}
			}

			readOnly, err := prefs.IsReadOnly(ctx)
			if err != nil {
				return err
			}
			if readOnly {
				r.io.Println("⚠️  The relay rejected the session, log in again to resume sync")
			}

			r.io.Println()
			r.io.Println("=== File ===")
			cp, err := r.app.Checkpoint(ctx)
			if err != nil {
				if errors.Is(err, ErrNoFile) {
					r.io.Println(err.Error())
					return nil
				}
				return err
			}

			engine, err := r.app.Engine(ctx)
			if err != nil {
				return err
			}

			r.io.Printf("File:        %s\n", cp.FileID)
			r.io.Printf("Group:       %s\n", cp.GroupID)
			r.io.Printf("Node:        %s\n", engine.Clock().Node())
			switch {
			case cp.KeyID == "":
				r.io.Println("Encryption:  off")
			case r.app.keyring.Has(cp.KeyID):
				r.io.Printf("Encryption:  key %s (unlocked)\n", cp.KeyID)
			default:
				r.io.Printf("Encryption:  key %s (locked)\n", cp.KeyID)
			}
			last := cp.LastSyncedTimestamp
			if last == "" {
				last = "never"
			}
			r.io.Printf("Sync mode:   %s\n", engine.Mode())
			r.io.Printf("Last synced: %s\n", last)
			r.io.Printf("Clock:       %s\n", engine.Clock().Now())
			r.io.Printf("Merkle hash: %d\n", engine.Merkle().Hash)
			return nil
		},
	}
}
