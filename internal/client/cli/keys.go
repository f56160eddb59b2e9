package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/iudanet/ledgersync/internal/crypto"
	"github.com/iudanet/ledgersync/pkg/api"
)

func newKeyCommand(r *root) *cobra.Command {
	var passwordFile string

	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage end-to-end encryption of the budget file",
	}
	cmd.PersistentFlags().StringVar(&passwordFile, "password-file", "", "read key password from file")

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Encrypt the file with a new key derived from a password",
		Long: "Derives a new key from a password, registers it on the relay\n" +
			"server and uploads the file encrypted with it. Other devices\n" +
			"have to download the file again and unlock it with the password.",
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

			password, err := r.readSecret(secretSource{env: KeyPasswordEnv, file: passwordFile, confirm: true}, "Key password: ")
			if err != nil {
				return err
			}

			salt, err := crypto.GenerateSaltBase64()
			if err != nil {
				return err
			}
			keyID := uuid.NewString()
			if _, err := r.app.keyring.CreateKey(keyID, password, salt); err != nil {
				return err
			}
			test, err := r.app.keyring.MakeTestContent(keyID)
			if err != nil {
				return err
			}

			client := r.app.API()
			if err := client.CreateKey(ctx, api.CreateKeyRequest{
				FileID:      cp.FileID,
				KeyID:       keyID,
				KeySalt:     salt,
				TestContent: test,
			}); err != nil {
				return err
			}

			// старая история зашифрована другим ключом (или не зашифрована)
			groupID, err := client.ResetFile(ctx, cp.FileID)
			if err != nil {
				return err
			}
			if err := engine.ResetGroup(ctx, groupID); err != nil {
				return err
			}
			if err := r.saveFileKey(cmd, keyID); err != nil {
				return err
			}
			r.io.Printf("✓ Created key %s\n", keyID)

			result, err := r.syncNow(cmd)
			if err != nil {
				return err
			}
			r.io.Printf("✓ Uploaded encrypted file in %d round(s)\n", result.Rounds)
			return nil
		},
	}

	unlockCmd := &cobra.Command{
		Use:   "unlock",
		Short: "Derive the file key from its password and keep it on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cp, err := r.app.Checkpoint(ctx)
			if err != nil {
				return err
			}
			if err := r.requireSession(cmd); err != nil {
				return err
			}

			info, err := r.app.API().GetKey(ctx, cp.FileID)
			if err != nil {
				return err
			}
			if info.ID == "" {
				r.io.Println("The file is not encrypted")
				return nil
			}
			if cp.KeyID != "" && cp.KeyID != info.ID {
				return fmt.Errorf("the file key was changed on another device, " +
					"download it again with 'ledgersync file use' in an empty data dir")
			}

			password, err := r.readSecret(secretSource{env: KeyPasswordEnv, file: passwordFile}, "Key password: ")
			if err != nil {
				return err
			}
			if _, err := r.app.keyring.CreateKey(info.ID, password, info.Salt); err != nil {
				return err
			}
			if err := r.app.keyring.ValidateTestContent(info.ID, info.Test); err != nil {
				r.app.keyring.Unload(info.ID)
				return err
			}

			if err := r.saveFileKey(cmd, info.ID); err != nil {
				return err
			}
			r.io.Println("✓ Key unlocked")

			result, err := r.syncNow(cmd)
			if err != nil {
				return err
			}
			r.io.Printf("✓ Synced in %d round(s), received %d change(s)\n", result.Rounds, len(result.Messages))
			return nil
		},
	}

	cmd.AddCommand(createCmd, unlockCmd)
	return cmd
}

// saveFileKey сохраняет загруженный ключ и привязывает его к файлу
func (r *root) saveFileKey(cmd *cobra.Command, keyID string) error {
	ctx := cmd.Context()

	exported, err := r.app.keyring.Export(keyID)
	if err != nil {
		return err
	}
	prefs, err := r.app.Prefs(ctx)
	if err != nil {
		return err
	}
	if err := prefs.SaveKey(ctx, keyID, exported); err != nil {
		return err
	}

	cp, err := prefs.GetCheckpoint(ctx)
	if err != nil {
		return err
	}
	cp.KeyID = keyID
	return prefs.SaveCheckpoint(ctx, cp)
}
