package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/oriys/strix/internal/secrets"
)

func secretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the encrypted API key keyring",
	}
	cmd.AddCommand(
		secretsInitCmd(),
		secretsSetCmd(),
		secretsListCmd(),
		secretsDeleteCmd(),
	)
	return cmd
}

func keyringPaths() (keyPath, ringPath string) {
	return filepath.Join(dataDir, "keyring.key"), filepath.Join(dataDir, "keyring.json")
}

func openKeyringOrFail() (*secrets.Keyring, error) {
	keyPath, ringPath := keyringPaths()
	cipher, err := secrets.NewCipherFromFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("keyring not initialized (run `strix secrets init`): %w", err)
	}
	return secrets.OpenKeyring(ringPath, cipher)
}

func secretsInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Generate the keyring encryption key",
		RunE: func(cmd *cobra.Command, args []string) error {
			keyPath, _ := keyringPaths()
			if _, err := os.Stat(keyPath); err == nil {
				return fmt.Errorf("key file already exists: %s", keyPath)
			}
			if err := os.MkdirAll(dataDir, 0o700); err != nil {
				return err
			}
			key, err := secrets.GenerateKey()
			if err != nil {
				return err
			}
			if err := os.WriteFile(keyPath, []byte(key), 0o600); err != nil {
				return err
			}
			fmt.Printf("keyring key written to %s\n", keyPath)
			return nil
		},
	}
}

func secretsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Store a secret; reference it in config as $SECRET:<name>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kr, err := openKeyringOrFail()
			if err != nil {
				return err
			}
			if err := kr.Set(args[0], []byte(args[1])); err != nil {
				return err
			}
			fmt.Printf("stored %s\n", args[0])
			return nil
		},
	}
}

func secretsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored secret names",
		RunE: func(cmd *cobra.Command, args []string) error {
			kr, err := openKeyringOrFail()
			if err != nil {
				return err
			}
			for _, name := range kr.List() {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func secretsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kr, err := openKeyringOrFail()
			if err != nil {
				return err
			}
			if err := kr.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
}
