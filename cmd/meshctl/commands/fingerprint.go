package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"meshcore/crypto"
)

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the node identity fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := crypto.LoadIdentity(secretStore, identityName)
			if err != nil {
				return fmt.Errorf("no identity found, run keygen first: %w", err)
			}
			fmt.Printf("Fingerprint: %s\n", id.Fingerprint())
			fmt.Printf("Peer ID:     %s\n", id.Fingerprint()[:16])
			return nil
		},
	}
}
