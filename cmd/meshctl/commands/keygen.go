package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"meshcore/crypto"
	"meshcore/secrets"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate node identity keys and store them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := crypto.LoadIdentity(secretStore, identityName); err == nil {
				return errors.New("identity already exists; delete it first to rotate")
			} else if !errors.Is(err, secrets.ErrSecretNotFound) {
				return err
			}

			id, err := crypto.LoadOrCreateIdentity(secretStore, identityName)
			if err != nil {
				return err
			}
			fmt.Printf("Identity created.\nFingerprint: %s\n", id.Fingerprint())
			return nil
		},
	}
}
