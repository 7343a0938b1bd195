package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"meshcore/crypto"
)

func bundleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bundle",
		Short: "Print the public key bundle for out-of-band exchange",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := crypto.LoadIdentity(secretStore, identityName)
			if err != nil {
				return fmt.Errorf("no identity found, run keygen first: %w", err)
			}
			encoded, err := id.Bundle().Encode()
			if err != nil {
				return err
			}
			fmt.Println(hex.EncodeToString(encoded))
			return nil
		},
	}
}
