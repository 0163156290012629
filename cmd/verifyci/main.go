package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haatos/verify-ci/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "verifyci",
		Short: "Build verification for pushes, pull requests and scheduled checks",
		Long: `verifyci runs an ordered set of verification stages (format, lint, audit,
test) against a revision. Newer events supersede older runs of the same
branch or pull request, and the dependency cache is keyed by the hash of the
dependency manifests.`,
		Version: version,
	}

	root.AddCommand(
		commands.NewRunCmd(),
		commands.NewServeCmd(),
		commands.NewAPIKeyCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(commands.ExitCode(err))
	}
}
