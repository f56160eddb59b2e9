package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iudanet/ledgersync/internal/client/storage"
	"github.com/iudanet/ledgersync/pkg/api"
)

func newFileCommand(r *root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file",
		Short: "Manage budget files on the relay server",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "create <name>",
			Short: "Register a new budget file and bind the data dir to it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				if err := r.requireUnbound(ctx); err != nil {
					return err
				}
				if err := r.requireSession(cmd); err != nil {
					return err
				}

				file, err := r.app.API().CreateFile(ctx, args[0])
				if err != nil {
					return err
				}
				if err := r.bindFile(ctx, file); err != nil {
					return err
				}

				r.io.Printf("✓ Created file %q (%s)\n", file.Name, file.FileID)

				// локальные правки, сделанные до привязки, уходят на сервер
				if _, err := r.syncNow(cmd); err != nil {
					return err
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List budget files of the account",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				if err := r.requireSession(cmd); err != nil {
					return err
				}

				files, err := r.app.API().ListFiles(ctx)
				if err != nil {
					return err
				}
				if len(files) == 0 {
					r.io.Println("No files. Run 'ledgersync file create <name>'.")
					return nil
				}

				current := ""
				if cp, err := r.app.Checkpoint(ctx); err == nil {
					current = cp.FileID
				}

				for _, f := range files {
					mark := " "
					if f.FileID == current {
						mark = "*"
					}
					encrypted := ""
					if f.EncryptKeyID != "" {
						encrypted = " [encrypted]"
					}
					r.io.Printf("%s %s  %s%s\n", mark, f.FileID, f.Name, encrypted)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "use <file-id>",
			Short: "Bind an empty data dir to an existing file and download it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				if err := r.requireUnbound(ctx); err != nil {
					return err
				}
				if err := r.requireSession(cmd); err != nil {
					return err
				}

				files, err := r.app.API().ListFiles(ctx)
				if err != nil {
					return err
				}
				var file *api.FileInfo
				for i := range files {
					if files[i].FileID == args[0] {
						file = &files[i]
						break
					}
				}
				if file == nil {
					return fmt.Errorf("file %s not found", args[0])
				}

				if err := r.bindFile(ctx, file); err != nil {
					return err
				}
				r.io.Printf("✓ Using file %q (%s)\n", file.Name, file.FileID)

				if file.EncryptKeyID != "" {
					r.io.Println("The file is encrypted. Run 'ledgersync key unlock' to download it.")
					return nil
				}
				_, err = r.syncNow(cmd)
				return err
			},
		},
	)

	return cmd
}

// requireUnbound проверяет, что каталог данных еще не привязан к файлу
func (r *root) requireUnbound(ctx context.Context) error {
	cp, err := r.app.Checkpoint(ctx)
	switch {
	case err == nil:
		return fmt.Errorf("data dir is already bound to file %s", cp.FileID)
	case errors.Is(err, ErrNoFile):
		return nil
	default:
		return err
	}
}

// bindFile сохраняет чекпойнт файла. Идентификатор узла берется из часов
// движка, чтобы метки локальных правок совпадали с узлом клиента.
func (r *root) bindFile(ctx context.Context, file *api.FileInfo) error {
	engine, err := r.app.Engine(ctx)
	if err != nil {
		return err
	}
	prefs, err := r.app.Prefs(ctx)
	if err != nil {
		return err
	}

	return prefs.SaveCheckpoint(ctx, &storage.Checkpoint{
		FileID:  file.FileID,
		GroupID: file.GroupID,
		KeyID:   file.EncryptKeyID,
		NodeID:  engine.Clock().Node(),
	})
}
