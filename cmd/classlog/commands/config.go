package commands

import (
	"github.com/classlog/classlog/src/config"
)

//CLIConfig contains configuration for the Run command
type CLIConfig struct {
	Classlog config.Config `mapstructure:",squash"`
	Discard  bool          `mapstructure:"discard"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Classlog: *config.NewDefaultConfig(),
		Discard:  false,
	}
}
