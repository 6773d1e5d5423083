package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/kfarrell/groupfill/cmd"
)

func main() {
	rootCmd := cmd.NewRootCommand()
	rootCmd.AddCommand(cmd.NewRunCommand())
	rootCmd.AddCommand(cmd.NewValidateCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var exitErr *cmd.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(2)
	}
}
