// Command zkfold runs the local materialization node.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/zkfold/internal/cli"
	"github.com/roach88/zkfold/internal/config"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.ExitCommandError)
	}
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
