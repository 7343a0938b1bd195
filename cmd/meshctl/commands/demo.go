package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"meshcore"
	"meshcore/crypto"
	"meshcore/session"
	"meshcore/transport"
)

func demoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run two in-memory nodes through a handshake and message exchange",
		RunE: func(cmd *cobra.Command, args []string) error {
			makeNode := func() (*crypto.Identity, session.PeerID, error) {
				id, err := crypto.NewIdentity()
				if err != nil {
					return nil, session.PeerID{}, err
				}
				peer, err := session.ParsePeerID(id.Fingerprint()[:2*session.PeerIDSize])
				return id, peer, err
			}

			idA, peerA, err := makeNode()
			if err != nil {
				return err
			}
			idB, peerB, err := makeNode()
			if err != nil {
				return err
			}

			endpointA, endpointB := transport.NewMemoryPair(peerA, peerB)
			alice, err := meshcore.New(idA, endpointA, nil)
			if err != nil {
				return err
			}
			bob, err := meshcore.New(idB, endpointB, nil)
			if err != nil {
				return err
			}

			fmt.Printf("alice %s\nbob   %s\n", alice.Fingerprint(), bob.Fingerprint())
			alice.Start()
			bob.Start()

			bob.OnMessage(func(from session.PeerID, payload []byte) {
				fmt.Printf("bob   <- %s: %q\n", from, payload)
				if err := bob.Send(from, []byte("ack: "+string(payload))); err != nil {
					fmt.Printf("bob   send failed: %v\n", err)
				}
			})
			alice.OnMessage(func(from session.PeerID, payload []byte) {
				fmt.Printf("alice <- %s: %q\n", from, payload)
			})

			if err := alice.Send(peerB, []byte("hello over the mesh")); err != nil {
				return err
			}

			alice.Stop()
			bob.Stop()
			return nil
		},
	}
}
