package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"uptimeline/internal/engine"
)

func cycleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Open, report on and settle check cycles",
	}
	cmd.AddCommand(cycleInitiateCmd())
	cmd.AddCommand(cycleSubmitCmd())
	cmd.AddCommand(cycleFinalizeCmd())
	cmd.AddCommand(cycleShowCmd())
	cmd.AddCommand(cycleListCmd())
	cmd.AddCommand(cycleSubmissionsCmd())
	return cmd
}

func parseCycleID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid cycle id %q", s)
	}
	return id, nil
}

func cycleInitiateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "initiate <domain>",
		Short: "Open a check cycle (owners may open one before it is due)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.InitiateCheckCycle(ctx, args[0], caller)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func cycleSubmitCmd() *cobra.Command {
	var (
		up, down       bool
		statusCode     int
		responseTimeMs int64
		signature      string
	)
	cmd := &cobra.Command{
		Use:   "submit <domain> <cycle>",
		Short: "Report the caller's check result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if up == down {
				return fmt.Errorf("exactly one of --up or --down is required")
			}
			caller, err := actorID()
			if err != nil {
				return err
			}
			cycleID, err := parseCycleID(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.SubmitResult(ctx, engine.SubmitOptions{
					DomainID:       args[0],
					CycleID:        cycleID,
					IsUp:           up,
					StatusCode:     statusCode,
					ResponseTimeMs: responseTimeMs,
					Signature:      signature,
					Caller:         caller,
				})
				if err != nil {
					if errors.Is(err, engine.ErrCycleFinalized) && c.Finalized {
						fmt.Printf("result not counted: deadline passed, cycle settled as %s\n", c.Outcome)
						return printJSONOrTable(c)
					}
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().BoolVar(&up, "up", false, "the domain was reachable")
	cmd.Flags().BoolVar(&down, "down", false, "the domain was unreachable")
	cmd.Flags().IntVar(&statusCode, "status-code", 0, "observed HTTP status code")
	cmd.Flags().Int64Var(&responseTimeMs, "response-ms", 0, "observed response time in milliseconds")
	cmd.Flags().StringVar(&signature, "signature", "", "opaque signature stored with the result")
	return cmd
}

func cycleFinalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <domain> <cycle>",
		Short: "Settle a cycle whose deadline passed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := actorID()
			if err != nil {
				return err
			}
			cycleID, err := parseCycleID(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.FinalizeCycle(ctx, args[0], cycleID, caller)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func cycleShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <domain> [cycle]",
		Short: "Show a cycle (default: the latest)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if len(args) == 1 {
					c, err := e.LatestCycle(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSONOrTable(c)
				}
				cycleID, err := parseCycleID(args[1])
				if err != nil {
					return err
				}
				c, err := e.GetCycle(ctx, args[0], cycleID)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func cycleListCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "list <domain>",
		Short: "List recent cycles, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.RecentCycles(ctx, args[0], count)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 10, "number of cycles")
	return cmd
}

func cycleSubmissionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submissions <domain> <cycle>",
		Short: "List results submitted for a cycle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cycleID, err := parseCycleID(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.CycleSubmissions(ctx, args[0], cycleID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func rewardsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rewards",
		Short: "Fund the reward pool and inspect payouts",
	}
	var amount int64
	fund := &cobra.Command{
		Use:   "fund",
		Short: "Deposit into the reward pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				balance, err := e.FundPool(ctx, amount, caller)
				if err != nil {
					return err
				}
				return printJSON(map[string]int64{"balance": balance})
			})
		},
	}
	fund.Flags().Int64Var(&amount, "amount", 0, "amount to deposit")
	_ = fund.MarkFlagRequired("amount")
	cmd.AddCommand(fund)

	cmd.AddCommand(&cobra.Command{
		Use:   "pool",
		Short: "Show the reward pool balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				balance, err := e.PoolBalance(ctx)
				if err != nil {
					return err
				}
				return printJSON(map[string]int64{"balance": balance})
			})
		},
	})

	var recipient string
	var limit int
	transfers := &cobra.Command{
		Use:   "transfers",
		Short: "List outbound transfers, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Transfers(ctx, recipient, limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	transfers.Flags().StringVar(&recipient, "recipient", "", "filter by recipient")
	transfers.Flags().IntVarP(&limit, "limit", "n", 20, "number of transfers")
	cmd.AddCommand(transfers)
	return cmd
}
