package main

import (
	_ "net/http/pprof"
	"os"

	cmd "github.com/classlog/classlog/cmd/classlog/commands"
)

func main() {
	rootCmd := cmd.RootCmd

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
