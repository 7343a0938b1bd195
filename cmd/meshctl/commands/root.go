package commands

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"meshcore/secrets"
)

const identityName = "identity"

var (
	home    string
	verbose bool

	secretStore secrets.Store
)

func Execute() error {
	root := &cobra.Command{
		Use:   "meshctl",
		Short: "Manage a mesh transport node identity",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.WarnLevel)
			}
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".meshcore")
			}

			fs, err := secrets.NewFileStore(home)
			if err != nil {
				return err
			}
			secretStore = fs
			return nil
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "key dir (default ~/.meshcore)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(keygenCmd(), fingerprintCmd(), bundleCmd(), demoCmd())
	return root.Execute()
}
