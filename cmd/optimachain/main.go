package main

import (
	"context"
	"fmt"
	"os"

	"github.com/optimachain/optimachain/cmd/optimachain/keygen"
	"github.com/optimachain/optimachain/cmd/optimachain/run"
	"github.com/spf13/cobra"
)

func main() {
	cmd := &cobra.Command{
		Use:          "optimachain",
		Short:        "Sharded proof-of-stake consensus node",
		SilenceUsage: true,
	}
	cmd.AddCommand(
		run.Command(),
		keygen.Command(),
	)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "command failed %v\n", err)
		os.Exit(1)
	}
}
