package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iudanet/ledgersync/internal/client/auth"
)

func newRegisterCommand(r *root) *cobra.Command {
	var passwordFile string

	cmd := &cobra.Command{
		Use:   "register [username]",
		Short: "Create an account on the relay server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			username, err := r.username(args)
			if err != nil {
				return err
			}
			password, err := r.readSecret(secretSource{env: PasswordEnv, file: passwordFile, confirm: true}, "Password: ")
			if err != nil {
				return err
			}

			svc, err := r.app.Auth(ctx)
			if err != nil {
				return err
			}
			result, err := svc.Register(ctx, username, password)
			if err != nil {
				return err
			}

			r.io.Printf("✓ Registered %s (user id %s)\n", result.Username, result.UserID)

			if _, err := svc.Login(ctx, username, password); err != nil {
				return fmt.Errorf("registered, but login failed: %w", err)
			}
			r.io.Println("✓ Logged in")
			return r.leaveReadOnly(ctx)
		},
	}
	cmd.Flags().StringVar(&passwordFile, "password-file", "", "read password from file")

	return cmd
}

func newLoginCommand(r *root) *cobra.Command {
	var passwordFile string

	cmd := &cobra.Command{
		Use:   "login [username]",
		Short: "Log in to the relay server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			username, err := r.username(args)
			if err != nil {
				return err
			}
			password, err := r.readSecret(secretSource{env: PasswordEnv, file: passwordFile}, "Password: ")
			if err != nil {
				return err
			}

			svc, err := r.app.Auth(ctx)
			if err != nil {
				return err
			}
			session, err := svc.Login(ctx, username, password)
			if err != nil {
				return err
			}

			r.io.Printf("✓ Logged in as %s at %s\n", session.Username, session.ServerURL)
			return r.leaveReadOnly(ctx)
		},
	}
	cmd.Flags().StringVar(&passwordFile, "password-file", "", "read password from file")

	return cmd
}

func newLogoutCommand(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and forget the relay session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := r.app.Auth(cmd.Context())
			if err != nil {
				return err
			}
			if err := svc.Logout(cmd.Context()); err != nil {
				return err
			}
			r.io.Println("✓ Logged out")
			return nil
		},
	}
}

// username берет имя из аргументов или спрашивает его
func (r *root) username(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	username, err := r.io.ReadInput("Username: ")
	if err != nil {
		return "", fmt.Errorf("failed to read username: %w", err)
	}
	return username, nil
}

// leaveReadOnly снимает режим только чтения, включенный движком
// после отказа сервера в авторизации
func (r *root) leaveReadOnly(ctx context.Context) error {
	prefs, err := r.app.Prefs(ctx)
	if err != nil {
		return err
	}
	return prefs.SetReadOnly(ctx, false)
}

// requireSession загружает сессию с подсказкой для пользователя
func (r *root) requireSession(cmd *cobra.Command) error {
	if _, err := r.app.Session(cmd.Context()); err != nil {
		if errors.Is(err, auth.ErrNotLoggedIn) {
			return fmt.Errorf("%w, run 'ledgersync login'", err)
		}
		return err
	}
	return nil
}
