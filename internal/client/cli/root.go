package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/iudanet/ledgersync/internal/client/iocli"
	"github.com/iudanet/ledgersync/internal/config"
)

// BuildInfo сведения о сборке для команды version
type BuildInfo struct {
	Version   string
	BuildDate string
	GitCommit string
}

// root общее состояние команд одного запуска
type root struct {
	io         iocli.IO
	build      BuildInfo
	configPath string
	cfg        config.Client
	app        *App
}

// Execute выполняет команду клиента с аргументами args.
// Хранилища, открытые командой, закрываются и при ошибке.
func Execute(ctx context.Context, io iocli.IO, build BuildInfo, args []string) (err error) {
	r := &root{io: io, build: build}
	defer func() {
		err = errors.Join(err, r.teardown())
	}()

	cmd := newRootCommand(r)
	cmd.SetOut(io)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// newRootCommand собирает дерево команд клиента
func newRootCommand(r *root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledgersync",
		Short: "ledgersync budget sync client",
		Long: "Keeps a local budget file and synchronizes it with other devices\n" +
			"through a ledgersync relay server.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return r.setup(cmd)
		},
	}

	defaults := config.DefaultClient()
	flags := cmd.PersistentFlags()
	flags.StringVarP(&r.configPath, "config", "c", "", "path to YAML config (default <data-dir>/config.yaml)")
	flags.String("data-dir", defaults.DataDir, "directory with local budget and session")
	flags.String("server-url", defaults.ServerURL, "relay server URL")
	flags.String("log-level", defaults.LogLevel, "log level (debug|info|warn|error)")
	flags.String("sync-mode", defaults.SyncMode, "sync mode (enabled|offline|disabled)")

	cmd.AddCommand(
		newRegisterCommand(r),
		newLoginCommand(r),
		newLogoutCommand(r),
		newStatusCommand(r),
		newFileCommand(r),
		newKeyCommand(r),
		newSetCommand(r),
		newAddCommand(r),
		newGetCommand(r),
		newSyncCommand(r),
		newRepairCommand(r),
		newResetCommand(r),
		newConfigCommand(r),
		newVersionCommand(r),
	)

	return cmd
}

// setup загружает настройки и создает App
func (r *root) setup(cmd *cobra.Command) error {
	flags := cmd.Root().PersistentFlags()

	cfg, err := config.LoadClient(resolveConfigPath(r.configPath, flags), flags)
	if err != nil {
		return err
	}

	r.cfg = cfg
	r.app = NewApp(cfg, r.io, config.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel))
	return nil
}

func (r *root) teardown() error {
	if r.app == nil {
		return nil
	}
	err := r.app.Close()
	r.app = nil
	return err
}

// resolveConfigPath выбирает файл настроек: явный путь или config.yaml
// в каталоге данных, если он существует
func resolveConfigPath(explicit string, flags *pflag.FlagSet) string {
	if explicit != "" {
		return explicit
	}

	dataDir := config.DefaultDataDir()
	if env := os.Getenv(config.EnvPrefix + "_DATA_DIR"); env != "" {
		dataDir = env
	}
	if f := flags.Lookup("data-dir"); f != nil && f.Changed {
		dataDir = f.Value.String()
	}

	path := config.ClientConfigPath(dataDir)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func newConfigCommand(r *root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage client configuration",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write current settings to <data-dir>/config.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ClientConfigPath(r.cfg.DataDir)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config %s already exists (use --force to overwrite)", path)
			}

			if err := config.Write(path, r.cfg); err != nil {
				return err
			}
			r.io.Printf("Config written to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing file")

	cmd.AddCommand(initCmd)
	return cmd
}

func newVersionCommand(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		// настройки не нужны
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			r.io.Printf("ledgersync client\n")
			r.io.Printf("Version:    %s\n", r.build.Version)
			r.io.Printf("Build Date: %s\n", r.build.BuildDate)
			r.io.Printf("Git Commit: %s\n", r.build.GitCommit)
		},
	}
}
