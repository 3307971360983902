package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/84hero/evm-gamefinder/pkg/decoder"
	"github.com/84hero/evm-gamefinder/pkg/finder"
	"github.com/84hero/evm-gamefinder/pkg/monitor"
	"github.com/84hero/evm-gamefinder/pkg/scanner"
	"github.com/84hero/evm-gamefinder/pkg/sink"
	"github.com/84hero/evm-gamefinder/pkg/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/cobra"
)

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// printJSON writes one JSON document per line.
func printJSON(w io.Writer, values ...any) error {
	enc := json.NewEncoder(w)
	for _, v := range values {
		if err := enc.Encode(v); err != nil {
			return err
		}
	}
	return nil
}

// searchRange resolves --from/--to. A zero --to means the chain head and a
// missing --from covers the widest finder window below it.
func searchRange(ctx context.Context, a *app, from, to uint64, fromSet bool) (scanner.BlockRange, error) {
	if to == 0 {
		head, err := a.chain.BlockNumber(ctx)
		if err != nil {
			return scanner.BlockRange{}, err
		}
		to = head
	}
	if !fromSet {
		windows := a.cfg.Finder.Windows
		from = finder.Window(to, windows[len(windows)-1]).From
	}
	return scanner.BlockRange{From: from, To: to}, nil
}

func (c *cli) gamesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "games <wallet>",
		Short: "List the most recent game codes a wallet took part in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wallet, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, a *app) error {
				n := limit
				if n <= 0 {
					n = a.cfg.Finder.DisplayLimit
				}
				codes, err := a.finder.FindGamesForWallet(ctx, wallet, n)
				if err != nil {
					return err
				}
				if codes == nil {
					codes = []string{}
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"wallet": wallet, "games": codes})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of codes (0 uses finder.display_limit)")
	return cmd
}

func (c *cli) eventsCmd() *cobra.Command {
	var from, to uint64
	cmd := &cobra.Command{
		Use:   "events <code>",
		Short: "Print every contract event of one game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app) error {
				r, err := searchRange(ctx, a, from, to, cmd.Flags().Changed("from"))
				if err != nil {
					return err
				}
				events, err := a.finder.FindGameEvents(ctx, args[0], r)
				if err != nil {
					return err
				}
				for _, ev := range events {
					if err := printJSON(cmd.OutOrStdout(), ev); err != nil {
						return err
					}
				}
				log.Info("Game events", "code", args[0], "range", r, "events", len(events))
				return nil
			})
		},
	}
	cmd.Flags().Uint64Var(&from, "from", 0, "first block (default: widest finder window below --to)")
	cmd.Flags().Uint64Var(&to, "to", 0, "last block (0 means the chain head)")
	return cmd
}

func (c *cli) logsCmd() *cobra.Command {
	var (
		from, to uint64
		involved string
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Fetch raw contract logs over a block range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var who *common.Address
			if involved != "" {
				addr, err := parseAddress(involved)
				if err != nil {
					return err
				}
				who = &addr
			}
			return c.run(cmd, func(ctx context.Context, a *app) error {
				r, err := searchRange(ctx, a, from, to, cmd.Flags().Changed("from"))
				if err != nil {
					return err
				}
				logs, err := a.fetcher.FetchLogs(ctx, a.cfg.ContractAddress(), r, who)
				if err != nil {
					return err
				}
				for _, l := range logs {
					if err := printJSON(cmd.OutOrStdout(), l); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().Uint64Var(&from, "from", 0, "first block (default: widest finder window below --to)")
	cmd.Flags().Uint64Var(&to, "to", 0, "last block (0 means the chain head)")
	cmd.Flags().StringVar(&involved, "involved", "", "only logs naming this address in an indexed topic")
	return cmd
}

type lastResult struct {
	Wallet common.Address      `json:"wallet"`
	Found  bool                `json:"found"`
	Head   uint64              `json:"head,omitempty"`
	Block  uint64              `json:"block,omitempty"`
	TxHash *common.Hash        `json:"tx_hash,omitempty"`
	Window *scanner.BlockRange `json:"window,omitempty"`
	Event  *decoder.Decoded    `json:"event,omitempty"`
}

func (c *cli) lastCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "last <wallet>",
		Short: "Find the most recent contract interaction of a wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wallet, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, a *app) error {
				hit, err := a.finder.LastInteraction(ctx, wallet)
				if err != nil {
					return err
				}
				res := lastResult{Wallet: wallet}
				if hit != nil {
					res.Found = true
					res.Head = hit.Head
					res.Block = hit.Block
					res.TxHash = &hit.Log.TxHash
					res.Window = &hit.Window
					if ev, ok := decoder.DecodeLog(hit.Log); ok {
						res.Event = &ev
					}
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func (c *cli) monitorCmd() *cobra.Command {
	var submitter string
	cmd := &cobra.Command{
		Use:   "monitor <txhash>",
		Short: "Follow a game-creation transaction until its game code is known",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := hexHash(args[0])
			if err != nil {
				return err
			}
			var from common.Address
			if submitter != "" {
				if from, err = parseAddress(submitter); err != nil {
					return err
				}
			}
			return c.run(cmd, func(ctx context.Context, a *app) error {
				outputs, err := sink.Build(ctx, a.cfg.Outputs)
				if err != nil {
					return err
				}
				defer outputs.Close()

				session := a.monitor.Start(ctx, raw, from)
				for st := range session.Updates() {
					if err := printJSON(cmd.OutOrStdout(), st); err != nil {
						session.Stop()
					}
				}
				final := session.Wait()

				// Delivery must not be cut short by the interrupt that ended the run.
				if err := outputs.Send(context.WithoutCancel(ctx), []sink.Record{sink.StatusRecord(final)}); err != nil {
					log.Error("Failed to deliver monitor result", "tx", raw, "err", err)
				}
				if final.State != monitor.StateComplete {
					return fmt.Errorf("transaction %s ended %s: %s", raw.Hex(), final.State, final.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&submitter, "submitter", "", "address that sent the transaction")
	return cmd
}

func hexHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid transaction hash %q", s)
	}
	return common.BytesToHash(b), nil
}

func (c *cli) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Continuously scan contract events into the configured outputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app) error {
				store, err := storage.New(ctx, a.cfg.Storage)
				if err != nil {
					return err
				}
				defer store.Close()

				outputs, err := sink.Build(ctx, a.cfg.Outputs)
				if err != nil {
					return err
				}
				defer outputs.Close()
				if len(outputs) == 0 {
					log.Warn("No outputs enabled, events are only logged")
				}

				s := scanner.New(a.chain, a.fetcher, store, a.cfg.Scanner, a.cfg.ContractAddress())
				s.SetHandler(func(ctx context.Context, events []decoder.Decoded) error {
					for _, ev := range events {
						log.Info("Event", "kind", ev.Kind, "code", ev.Event.Code(), "block", ev.BlockNumber, "tx", ev.TxHash)
					}
					return outputs.Send(ctx, sink.EventRecords(events))
				})

				err = s.Start(ctx)
				if errors.Is(err, context.Canceled) {
					log.Info("Shutting down...")
					return nil
				}
				return err
			})
		},
	}
}

func (c *cli) endpointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "endpoints",
		Short: "Show the health of every configured endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app) error {
				if head, err := a.chain.BlockNumber(ctx); err != nil {
					log.Warn("Head probe failed", "err", err)
				} else {
					log.Info("Head probe", "head", head)
				}
				for _, st := range a.endpoints() {
					if err := printJSON(cmd.OutOrStdout(), st); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}
