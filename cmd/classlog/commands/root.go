package commands

import (
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

//RootCmd is the root command for classlog
var RootCmd = &cobra.Command{
	Use:              "classlog",
	Short:            "classlog p2p sync",
	TraverseChildren: true,
}

func init() {
	RootCmd.AddCommand(
		NewRunCmd(),
		NewIdentityCmd(),
		NewVersionCmd(),
	)

	//Do not print usage when error occurs
	RootCmd.SilenceUsage = true
}
