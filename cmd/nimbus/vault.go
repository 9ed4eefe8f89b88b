package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/mtzanidakis/nimbus/internal/config"
	"github.com/mtzanidakis/nimbus/internal/store"
	"github.com/mtzanidakis/nimbus/internal/vault"
)

func runVault(args []string) error {
	if len(args) == 0 {
		printVaultUsage()
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Vault.Passphrase == "" {
		return fmt.Errorf("NIMBUS_VAULT_PASSPHRASE environment variable is required")
	}

	v := vault.New(cfg.Vault.Passphrase)

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	switch args[0] {
	case "list":
		return vaultList(db)
	case "set":
		return vaultSet(db, v, args[1:])
	case "get":
		return vaultGet(db, v, args[1:])
	case "delete":
		return vaultDelete(db, args[1:])
	default:
		printVaultUsage()
		return fmt.Errorf("unknown vault command: %s", args[0])
	}
}

func printVaultUsage() {
	fmt.Fprintf(os.Stderr, `Usage: nimbus vault <command>

Commands:
  list                                              List all secrets (metadata only)
  set <name> --value <str> [--description <text>]   Store a string secret
  set <name> --file <path> [--description <text>]   Store a file's contents
  get <name>                                        Retrieve and decrypt a secret
  delete <name>                                     Delete a secret

Config values of the form secret:<name> are resolved from the vault at startup.

Environment:
  NIMBUS_VAULT_PASSPHRASE          Required. Encryption passphrase.
`)
}

func vaultList(db *store.Store) error {
	secrets, err := db.ListSecrets()
	if err != nil {
		return err
	}
	if len(secrets) == 0 {
		fmt.Println("No secrets stored.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION\tUPDATED")
	for _, s := range secrets {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.Description, s.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func vaultSet(db *store.Store, v *vault.Vault, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: nimbus vault set <name> --value <string> | --file <path> [--description <text>]")
	}

	name := args[0]
	var value []byte
	switch args[1] {
	case "--value":
		value = []byte(args[2])
	case "--file":
		data, err := os.ReadFile(args[2])
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		value = data
	default:
		return fmt.Errorf("expected --value or --file, got %s", args[1])
	}

	sec, err := v.Seal(name, flagValue(args[3:], "--description"), value)
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	if err := db.SaveSecret(sec); err != nil {
		return err
	}
	fmt.Printf("Secret %q saved\n", name)
	return nil
}

func vaultGet(db *store.Store, v *vault.Vault, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: nimbus vault get <name>")
	}

	plaintext, err := v.Lookup(db, args[0])
	if err != nil {
		return err
	}
	fmt.Print(plaintext)
	if len(plaintext) > 0 && plaintext[len(plaintext)-1] != '\n' {
		fmt.Println()
	}
	return nil
}

func vaultDelete(db *store.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: nimbus vault delete <name>")
	}
	deleted, err := db.DeleteSecretByName(args[0])
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("secret %q not found", args[0])
	}
	fmt.Printf("Secret %q deleted\n", args[0])
	return nil
}
