package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/paleoquota/paleoquota/crypto"
)

// GenIdentityCommand constructs the gen-identity command, which creates the
// persistent identity key file ahead of time and prints the public key.
func GenIdentityCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-identity",
		Short: "Generate the persistent identity key file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.EnsureRoot(); err != nil {
				return err
			}

			path := cfg.IdentityPath()
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("identity file already exists at %s", path)
			}

			id, err := crypto.GenIdentity()
			if err != nil {
				return err
			}
			if err := crypto.SaveIdentity(id, path); err != nil {
				return err
			}

			fmt.Printf("wrote %s\npublic key: %s\n", path, id.PubKey)
			return nil
		},
	}
}
