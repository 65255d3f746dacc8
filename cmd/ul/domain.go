package main

import (
	"context"

	"github.com/spf13/cobra"

	"uptimeline/internal/domain"
	"uptimeline/internal/engine"
)

func domainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "domain",
		Short: "Register and fund monitored domains",
	}
	cmd.AddCommand(domainRegisterCmd())
	cmd.AddCommand(domainShowCmd())
	cmd.AddCommand(domainListCmd())
	cmd.AddCommand(domainAmountCmd("stake", "Add to a domain's balance", engine.Engine.Stake))
	cmd.AddCommand(domainAmountCmd("withdraw", "Withdraw from a domain's balance", engine.Engine.Withdraw))
	cmd.AddCommand(domainIntervalCmd())
	cmd.AddCommand(domainUnregisterCmd())
	cmd.AddCommand(domainStatsCmd())
	cmd.AddCommand(domainStatusCmd())
	cmd.AddCommand(domainScheduleCmd())
	return cmd
}

func domainRegisterCmd() *cobra.Command {
	var interval, stake int64
	cmd := &cobra.Command{
		Use:   "register <domain>",
		Short: "Register a domain with an initial stake",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.RegisterDomain(ctx, args[0], interval, stake, caller)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().Int64Var(&interval, "interval", 300, "check interval in seconds")
	cmd.Flags().Int64Var(&stake, "stake", 0, "initial stake")
	_ = cmd.MarkFlagRequired("stake")
	return cmd
}

func domainShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <domain>",
		Short: "Show a domain record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.GetDomain(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
}

func domainListCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List domains registered by an owner (default: the caller)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				caller, err := actorID()
				if err != nil {
					return err
				}
				owner = caller
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.DomainsOwnedBy(ctx, owner)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner identity")
	return cmd
}

type amountOp func(e engine.Engine, ctx context.Context, domainID string, amount int64, caller string) (domain.Domain, error)

func domainAmountCmd(use, short string, op amountOp) *cobra.Command {
	var amount int64
	cmd := &cobra.Command{
		Use:   use + " <domain>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := op(e, ctx, args[0], amount, caller)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "amount")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func domainIntervalCmd() *cobra.Command {
	var interval int64
	cmd := &cobra.Command{
		Use:   "interval <domain>",
		Short: "Change the check interval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.UpdateInterval(ctx, args[0], interval, caller)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().Int64Var(&interval, "seconds", 0, "new interval in seconds")
	_ = cmd.MarkFlagRequired("seconds")
	return cmd
}

func domainUnregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <domain>",
		Short: "Stop monitoring and refund the remaining balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.UnregisterDomain(ctx, args[0], caller)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
}

func domainStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <domain>",
		Short: "Show rolling uptime statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.DomainStats(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
}

func domainStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <domain>",
		Short: "Show the current consensus status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.DomainStatus(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
}

func domainScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule <domain>",
		Short: "Show scheduling metadata and whether a check is due",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.GetSchedule(ctx, args[0])
				if err != nil {
					return err
				}
				due, err := e.IsCheckDue(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"schedule": s, "due": due})
			})
		},
	}
}
