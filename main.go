// Package main provides the entry point of the company segments engine
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/amirphl/company-segments/app/commands"
)

func main() {
	rootCmd := commands.NewRootCmd(commands.DefaultAppFactory)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(commands.ExitCode(err))
	}
}
