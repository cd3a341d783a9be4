package commands

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/classlog/classlog/src/crypto"
	"github.com/classlog/classlog/src/pairing"
	"github.com/classlog/classlog/src/peers"
)

//NewIdentityCmd returns the command that prints the device identity and a
//pairing code for it
func NewIdentityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "identity",
		Short:   "Show device ID and pairing code",
		PreRunE: loadConfig,
		RunE:    identity,
	}

	cmd.Flags().String("datadir", _config.Classlog.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("keystore", _config.Classlog.KeystoreDir, "Keystore directory")

	return cmd
}

func identity(cmd *cobra.Command, args []string) error {
	keystore, err := crypto.NewKeystore(_config.Classlog.KeystoreDir)
	if err != nil {
		return err
	}
	defer keystore.Close()

	coordinator := pairing.NewCoordinator(
		keystore,
		peers.NewPeerSet(),
		clockwork.NewRealClock(),
		_config.Classlog.Logger(),
	)

	code, err := coordinator.GeneratePairingCode()
	if err != nil {
		return err
	}

	fmt.Println("DeviceID:", keystore.DeviceID())
	fmt.Println("PairingCode:", code)

	return nil
}
