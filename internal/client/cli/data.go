package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/iudanet/ledgersync/internal/client/auth"
	"github.com/iudanet/ledgersync/internal/models"
)

const valueHelp = `Values are stored as strings. Use N:<number> for a number,
S:<text> for a string that looks like a prefix and 0: for null.`

func newSetCommand(r *root) *cobra.Command {
	var noSync bool

	cmd := &cobra.Command{
		Use:   "set <dataset> <row-id> <column=value>...",
		Short: "Change fields of a row",
		Long:  "Changes fields of a row and syncs the change.\n\n" + valueHelp,
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.writeRow(cmd, args[0], args[1], args[2:], noSync)
		},
	}
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "keep the change local until the next sync")

	return cmd
}

func newAddCommand(r *root) *cobra.Command {
	var noSync bool

	cmd := &cobra.Command{
		Use:   "add <dataset> <column=value>...",
		Short: "Create a row with a generated id",
		Long:  "Creates a row with a generated id and syncs it.\n\n" + valueHelp,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := uuid.NewString()
			if err := r.writeRow(cmd, args[0], id, args[1:], noSync); err != nil {
				return err
			}
			r.io.Println(id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "keep the change local until the next sync")

	return cmd
}

func newGetCommand(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "get <dataset> <row-id>...",
		Short: "Show rows of a dataset",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataset, err := models.ParseDataset(args[0])
			if err != nil {
				return err
			}
			if dataset.IsPrefs() {
				return r.printPrefs(cmd)
			}

			store, err := r.app.Store(cmd.Context())
			if err != nil {
				return err
			}
			rows, err := store.FetchRows(cmd.Context(), dataset, args[1:])
			if err != nil {
				return err
			}

			for _, id := range args[1:] {
				row, ok := rows[id]
				if !ok {
					r.io.Printf("%s: not found\n", id)
					continue
				}
				r.io.Println(id)
				printFields(r, row, "id")
			}
			return nil
		},
	}
}

// writeRow записывает поля строки одним пакетом сообщений
func (r *root) writeRow(cmd *cobra.Command, datasetName, id string, pairs []string, noSync bool) error {
	ctx := cmd.Context()

	dataset, err := models.ParseDataset(datasetName)
	if err != nil {
		return err
	}
	fields, err := parseFields(pairs)
	if err != nil {
		return err
	}

	engine, err := r.app.Engine(ctx)
	if err != nil {
		return err
	}
	if err := engine.Update(ctx, dataset, id, fields); err != nil {
		return err
	}
	// синхронизация выполняется сразу, а не по таймеру
	engine.CancelScheduledSync()

	if noSync {
		return nil
	}

	result, err := r.syncNow(cmd)
	switch {
	case err == nil:
		r.io.Printf("✓ Saved and synced in %d round(s)\n", result.Rounds)
		return nil
	case errors.Is(err, ErrNoFile), errors.Is(err, auth.ErrNotLoggedIn), errors.Is(err, ErrKeyLocked),
		errors.Is(err, ErrSyncOff):
		r.io.Printf("Saved locally: %v\n", err)
		return nil
	default:
		return fmt.Errorf("saved locally, but sync failed: %w", err)
	}
}

func (r *root) printPrefs(cmd *cobra.Command) error {
	prefs, err := r.app.Prefs(cmd.Context())
	if err != nil {
		return err
	}
	synced, err := prefs.GetSyncedPrefs(cmd.Context())
	if err != nil {
		return err
	}
	printFields(r, synced)
	return nil
}

// parseFields разбирает аргументы column=value
func parseFields(pairs []string) (models.Row, error) {
	fields := make(models.Row, len(pairs))
	for _, pair := range pairs {
		column, raw, ok := strings.Cut(pair, "=")
		if !ok || column == "" {
			return nil, fmt.Errorf("invalid field %q, expected column=value", pair)
		}
		fields[column] = parseValue(raw)
	}
	return fields, nil
}

// parseValue понимает формат N:/S:/0:, остальное считается строкой
func parseValue(raw string) models.Value {
	if v, err := models.DeserializeValue(raw); err == nil {
		return v
	}
	return models.String(raw)
}

func printFields(r *root, fields map[string]models.Value, skip ...string) {
	columns := make([]string, 0, len(fields))
	for col := range fields {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	for _, col := range columns {
		if len(skip) > 0 && col == skip[0] {
			continue
		}
		r.io.Printf("  %s = %s\n", col, fields[col])
	}
}
