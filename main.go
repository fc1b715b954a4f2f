package main

import (
	"context"
	"fmt"
	"os"

	"LocalAnimator/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	// Opening a share link starts a replica connected to the linked relay.
	cmd.SetArgs(cli.ExpandShareLink(os.Args[1:]))
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
