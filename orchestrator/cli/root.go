// Package cli implements wrapctl, the command line client of the
// orchestrator daemon.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"connectrpc.com/connect"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/rpc"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Server  string
	Format  string // "json" | "text"
	Timeout time.Duration

	// HTTPClient overrides the transport, used by tests.
	HTTPClient connect.HTTPClient
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the wrapctl root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wrapctl",
		Short: "Drive a wrap-and-send orchestrator",
		Long: `wrapctl talks to a running orchestrator daemon.

Orchestrator commands submit wrap-and-send requests and inspect sagas and
in-flight transfers. Localnet commands fund accounts, relay packets, unwrap
canonical funds and tune the mock contracts of a local deployment.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Server, "server", "s", "http://localhost:8080", "orchestrator RPC address")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "request timeout")

	cmd.AddCommand(newSendCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))
	cmd.AddCommand(newTransfersCommand(opts))
	cmd.AddCommand(newDeploymentCommand(opts))
	cmd.AddCommand(newChainBalanceCommand(opts))

	cmd.AddCommand(newAccountCommand(opts))
	cmd.AddCommand(newFundCommand(opts))
	cmd.AddCommand(newBalancesCommand(opts))
	cmd.AddCommand(newPacketsCommand(opts))
	cmd.AddCommand(newRelayCommand(opts))
	cmd.AddCommand(newRouterCommand(opts))
	cmd.AddCommand(newCustodyCommand(opts))
	cmd.AddCommand(newUnwrapCommand(opts))

	return cmd
}

func (o *RootOptions) client() *rpc.Client {
	httpClient := o.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: o.Timeout}
	}
	return rpc.NewClient(httpClient, o.Server)
}

func (o *RootOptions) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if o.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.Timeout)
}

func (o *RootOptions) printer(cmd *cobra.Command) *printer {
	return &printer{format: o.Format, w: cmd.OutOrStdout()}
}
