package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/localnet"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/models"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// The commands below only work against a daemon running a local chain.

func newAccountCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "account <name>",
		Short: "Derive the address of a named local account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			resp, err := opts.client().Account(ctx, args[0])
			if err != nil {
				return err
			}
			return opts.printer(cmd).print(resp, func(w io.Writer) {
				fmt.Fprintln(w, resp.Address)
			})
		},
	}
}

func newFundCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fund <address> <coins>",
		Short: "Mint coins to an address on the local chain",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			resp, err := opts.client().Fund(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return opts.printer(cmd).print(resp, func(w io.Writer) {
				fmt.Fprintf(w, "funded %s with %s at height %d\n", args[0], args[1], resp.Height)
			})
		},
	}
}

func newBalancesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balances <address>",
		Short: "Show the balances of an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			resp, err := opts.client().Balances(ctx, args[0])
			if err != nil {
				return err
			}
			return opts.printer(cmd).print(resp, func(w io.Writer) {
				if resp.Balances == "" {
					fmt.Fprintln(w, "(empty)")
					return
				}
				fmt.Fprintln(w, resp.Balances)
			})
		},
	}
}

func newPacketsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "packets",
		Short: "List packets waiting for a relayer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			resp, err := opts.client().PendingPackets(ctx)
			if err != nil {
				return err
			}
			return opts.printer(cmd).print(resp, func(w io.Writer) {
				rows := make([][]string, 0, len(resp.Packets))
				for _, p := range resp.Packets {
					rows = append(rows, []string{
						p.SourceChannel,
						strconv.FormatUint(p.Sequence, 10),
						p.Token.String(),
						p.Sender,
						p.Receiver,
					})
				}
				table(w, []string{"CHANNEL", "SEQUENCE", "TOKEN", "SENDER", "RECEIVER"}, rows)
			})
		},
	}
}

type relayOptions struct {
	*RootOptions
	Channel  string
	Sequence uint64
}

func newRelayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &relayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "relay <ack|ack_error|timeout>",
		Short: "Resolve a pending packet",
		Long: `Resolve a pending packet with the given outcome.

Without --sequence the first pending packet of the orchestrator is relayed.
A timeout is only accepted once the packet's timeout has passed.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(localnet.OutcomeAck), string(localnet.OutcomeAckError), string(localnet.OutcomeTimeout)},
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := localnet.ParseOutcome(args[0]); err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			resp, err := opts.client().Relay(ctx, &models.RelayRequest{
				Channel:  opts.Channel,
				Sequence: opts.Sequence,
				Outcome:  args[0],
			})
			if err != nil {
				return err
			}
			return opts.printer(cmd).print(resp, func(w io.Writer) {
				fmt.Fprintf(w, "relayed %s#%d (%s) as %s\n",
					resp.Packet.SourceChannel, resp.Packet.Sequence, resp.Packet.Token, args[0])
				events(w, resp.Tx.Events)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Channel, "channel", "channel-0", "source channel of the packet")
	cmd.Flags().Uint64Var(&opts.Sequence, "sequence", 0, "packet sequence, 0 picks the first pending one")

	return cmd
}

type routerOptions struct {
	*RootOptions
	Rate          string
	Fail          bool
	IgnoreMinimum bool
}

func newRouterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &routerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "router",
		Short: "Replace the mock swap router's settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rate, err := decimal.NewFromString(opts.Rate)
			if err != nil {
				return fmt.Errorf("invalid --rate: %w", err)
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			resp, err := opts.client().ConfigureRouter(ctx, &models.RouterRequest{
				Rate:          rate,
				Fail:          opts.Fail,
				IgnoreMinimum: opts.IgnoreMinimum,
			})
			if err != nil {
				return err
			}
			return opts.printer(cmd).print(resp, func(w io.Writer) {
				fmt.Fprintf(w, "rate=%s fail=%t ignore_minimum=%t\n", resp.Rate, resp.Fail, resp.IgnoreMinimum)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Rate, "rate", "1", "ask units paid per offered unit")
	cmd.Flags().BoolVar(&opts.Fail, "fail", false, "fail every swap")
	cmd.Flags().BoolVar(&opts.IgnoreMinimum, "ignore-minimum", false, "pay out below minimum_receive")

	return cmd
}

func newCustodyCommand(opts *RootOptions) *cobra.Command {
	var fail bool
	cmd := &cobra.Command{
		Use:   "custody",
		Short: "Toggle failure of the mock custody contract",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			resp, err := opts.client().ConfigureCustody(ctx, fail)
			if err != nil {
				return err
			}
			return opts.printer(cmd).print(resp, func(w io.Writer) {
				fmt.Fprintf(w, "fail=%t\n", resp.Fail)
			})
		},
	}
	cmd.Flags().BoolVar(&fail, "fail", false, "fail every mint")
	return cmd
}

func newUnwrapCommand(opts *RootOptions) *cobra.Command {
	var receiver string
	cmd := &cobra.Command{
		Use:   "unwrap <sender> <amount>",
		Short: "Burn canonical funds at the custody contract for bridged funds",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			resp, err := opts.client().Unwrap(ctx, &models.UnwrapRequest{
				Sender:   args[0],
				Amount:   args[1],
				Receiver: receiver,
			})
			if err != nil {
				return err
			}
			return opts.printer(cmd).print(resp, func(w io.Writer) {
				fmt.Fprintf(w, "unwrapped %s at height %d\n", args[1], resp.Height)
				events(w, resp.Events)
			})
		},
	}
	cmd.Flags().StringVar(&receiver, "receiver", "", "account paid the bridged funds, defaults to the sender")
	return cmd
}
