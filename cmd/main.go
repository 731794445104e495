package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/CoreumFoundation/coreum-tools/pkg/run"

	"github.com/interledgermesh/connector/cmd/cli"
	"github.com/interledgermesh/connector/runner"
)

func main() {
	run.Tool("connector", func(ctx context.Context) error {
		rootCmd := RootCmd(ctx)
		if err := rootCmd.Execute(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		return nil
	})
}

// RootCmd returns the root cmd.
func RootCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Short: "Interledger connector node.",
	}
	cmd.SetContext(ctx)

	cmd.AddCommand(cli.InitCmd())
	cmd.AddCommand(cli.StartCmd(runnerProvider))
	cmd.AddCommand(cli.BalancesCmd())
	cmd.AddCommand(cli.RoutesCmd())
	cmd.AddCommand(cli.ChannelsCmd())
	cmd.AddCommand(cli.RecentSettlementsCmd())
	cmd.AddCommand(cli.VersionCmd())

	return cmd
}

// runnerProvider builds the node runner. On-ledger submission clients are
// integration points: builds embedding the chain SDKs pass them through
// runner.Backends, the plain binary keeps those settlement methods disabled.
func runnerProvider(cmd *cobra.Command) (cli.Runner, error) {
	return cli.NewRunnerFromHome(cmd, runner.Backends{})
}
