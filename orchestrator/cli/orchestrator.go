package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/clients/astroport"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/models"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/saga"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type sendOptions struct {
	*RootOptions
	Sender        string
	Funds         string
	Port          string
	Channel       string
	Receiver      string
	SwapAmount    string
	FeeDenom      string
	Hops          []string
	RefundAddress string
	Memo          string
}

func newSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &sendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Wrap a bridged deposit and send it over IBC",
		Long: `Submit a wrap-and-send request.

The deposit is minted into the canonical denom, --swap-amount of it is
swapped for the relayer fee and the rest is transferred to --receiver.
Without --hop the route is a single canonical to fee denom hop.

Example:
  wrapctl send --sender neutron1... --funds 300ibc/ABC \
    --receiver cosmos1... --swap-amount 100 --fee-denom untrn`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Sender, "sender", "", "account submitting the request")
	cmd.Flags().StringVar(&opts.Funds, "funds", "", "deposit attached to the request, e.g. 300ibc/ABC")
	cmd.Flags().StringVar(&opts.Port, "port", "transfer", "source port")
	cmd.Flags().StringVar(&opts.Channel, "channel", "channel-0", "source channel")
	cmd.Flags().StringVar(&opts.Receiver, "receiver", "", "receiver on the destination chain")
	cmd.Flags().StringVar(&opts.SwapAmount, "swap-amount", "", "canonical amount to swap for the relayer fee")
	cmd.Flags().StringVar(&opts.FeeDenom, "fee-denom", "untrn", "denom the relayer fee is paid in")
	cmd.Flags().StringArrayVar(&opts.Hops, "hop", nil, "swap hop as offer>ask, repeatable")
	cmd.Flags().StringVar(&opts.RefundAddress, "refund-address", "", "refund address, defaults to --sender")
	cmd.Flags().StringVar(&opts.Memo, "memo", "", "memo forwarded with the transfer")
	_ = cmd.MarkFlagRequired("sender")
	_ = cmd.MarkFlagRequired("funds")
	_ = cmd.MarkFlagRequired("receiver")
	_ = cmd.MarkFlagRequired("swap-amount")

	return cmd
}

func parseHop(s string) (astroport.SwapOperation, error) {
	offer, ask, ok := strings.Cut(s, ">")
	if !ok || offer == "" || ask == "" {
		return astroport.SwapOperation{}, fmt.Errorf("invalid hop %q: want offer>ask", s)
	}
	return astroport.Hop(strings.TrimSpace(offer), strings.TrimSpace(ask)), nil
}

func runSend(cmd *cobra.Command, opts *sendOptions) error {
	swapAmount, err := decimal.NewFromString(opts.SwapAmount)
	if err != nil {
		return fmt.Errorf("invalid --swap-amount: %w", err)
	}
	ctx, cancel := opts.context(cmd)
	defer cancel()
	client := opts.client()

	var route []astroport.SwapOperation
	for _, h := range opts.Hops {
		op, err := parseHop(h)
		if err != nil {
			return err
		}
		route = append(route, op)
	}
	if len(route) == 0 {
		cfg, err := client.Config(ctx)
		if err != nil {
			return err
		}
		route = []astroport.SwapOperation{astroport.Hop(cfg.CanonicalDenom, opts.FeeDenom)}
	}

	refund := opts.RefundAddress
	if refund == "" {
		refund = opts.Sender
	}
	resp, err := client.WrapAndSend(ctx, &models.WrapAndSendRequest{
		Sender: opts.Sender,
		Funds:  opts.Funds,
		Msg: saga.WrapAndSendMsg{
			SourcePort:         opts.Port,
			SourceChannel:      opts.Channel,
			Receiver:           opts.Receiver,
			AmountToSwapForFee: swapAmount,
			FeeDenom:           opts.FeeDenom,
			SwapOperations:     route,
			RefundAddress:      refund,
			Memo:               opts.Memo,
		},
	})
	if err != nil {
		return err
	}
	return opts.printer(cmd).print(resp, func(w io.Writer) {
		fmt.Fprintf(w, "saga %s committed at height %d\n", resp.SagaID, resp.Height)
		events(w, resp.Events)
	})
}

func newStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the saga phase and the number of in-flight transfers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			st, err := opts.client().Status(ctx)
			if err != nil {
				return err
			}
			return opts.printer(cmd).print(st, func(w io.Writer) {
				fmt.Fprintf(w, "phase:     %s\n", st.Phase)
				if st.SagaID != "" {
					fmt.Fprintf(w, "saga:      %s\n", st.SagaID)
				}
				fmt.Fprintf(w, "in flight: %d\n", st.InFlight)
			})
		},
	}
}

func newConfigCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the orchestrator's stored configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			cfg, err := opts.client().Config(ctx)
			if err != nil {
				return err
			}
			return opts.printer(cmd).print(cfg, func(w io.Writer) {
				table(w, []string{"KEY", "VALUE"}, [][]string{
					{"custody_contract", cfg.CustodyContract},
					{"swap_router", cfg.SwapRouter},
					{"canonical_denom", cfg.CanonicalDenom},
					{"bridged_denom", cfg.BridgedDenom},
					{"transfer_timeout", cfg.TransferTimeout.String()},
					{"shortfall_policy", string(cfg.ShortfallPolicy)},
				})
			})
		},
	}
}

type transfersOptions struct {
	*RootOptions
	After string
	Limit int
}

func newTransfersCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &transfersOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "transfers",
		Short: "List transfers awaiting an acknowledgement or timeout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := &models.InFlightTransfersRequest{Limit: opts.Limit}
			if opts.After != "" {
				key, err := parseTransferKey(opts.After)
				if err != nil {
					return err
				}
				q.StartAfter = &key
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			resp, err := opts.client().InFlightTransfers(ctx, q)
			if err != nil {
				return err
			}
			return opts.printer(cmd).print(resp, func(w io.Writer) {
				rows := make([][]string, 0, len(resp.Transfers))
				for _, t := range resp.Transfers {
					rows = append(rows, []string{
						t.Key.String(),
						t.Record.SagaID,
						t.Record.SentAmount.String(),
						t.Record.Receiver,
						t.Record.RefundAddress,
					})
				}
				table(w, []string{"TRANSFER", "SAGA", "AMOUNT", "RECEIVER", "REFUND"}, rows)
			})
		},
	}

	cmd.Flags().StringVar(&opts.After, "after", "", "list after this transfer, as channel#sequence")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of transfers")

	return cmd
}

func parseTransferKey(s string) (saga.TransferKey, error) {
	channel, seq, ok := strings.Cut(s, "#")
	if !ok || channel == "" {
		return saga.TransferKey{}, fmt.Errorf("invalid transfer %q: want channel#sequence", s)
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return saga.TransferKey{}, fmt.Errorf("invalid transfer %q: %w", s, err)
	}
	return saga.TransferKey{Channel: channel, Sequence: n}, nil
}

func newDeploymentCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deployment",
		Short: "Show the deployed contract addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			d, err := opts.client().Deployment(ctx)
			if err != nil {
				return err
			}
			return opts.printer(cmd).print(d, func(w io.Writer) {
				table(w, []string{"KEY", "VALUE"}, [][]string{
					{"chain_id", d.ChainID},
					{"height", strconv.FormatUint(d.Height, 10)},
					{"orchestrator", d.Orchestrator},
					{"custody", d.Custody},
					{"router", d.Router},
					{"relayer", d.Relayer},
				})
			})
		},
	}
}

func newChainBalanceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chain-balance <address> <denom>",
		Short: "Read a balance from the live chain the fee oracle queries",
		Long: `Read a bank balance from the REST endpoints configured for the fee
oracle. The daemon only serves this with fee_oracle.mode = rest.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			resp, err := opts.client().ChainBalance(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return opts.printer(cmd).print(resp, func(w io.Writer) {
				fmt.Fprintln(w, resp.Balance)
			})
		},
	}
}
