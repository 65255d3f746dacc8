package main

import (
	"context"

	"github.com/spf13/cobra"

	"uptimeline/internal/engine"
)

func validatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validator",
		Short: "Enroll validators and inspect the rotation",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "register",
		Short: "Enroll the caller as an active validator",
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.RegisterValidator(ctx, caller)
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "deactivate",
		Short: "Remove the caller from the rotation",
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.DeactivateValidator(ctx, caller)
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active validators in rotation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ActiveValidators(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <validator>",
		Short: "Show a validator record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.GetValidator(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "jobs [validator]",
		Short: "List pending jobs (default: the caller's)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			if len(args) == 1 {
				id = args[0]
			} else {
				caller, err := actorID()
				if err != nil {
					return err
				}
				id = caller
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.PendingJobs(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	return cmd
}

func jobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Assign and complete standalone check jobs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "assign <domain>",
		Short: "Assign a check of the domain to the next validator in rotation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.AssignJob(ctx, args[0], caller)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	})

	var jobID int64
	complete := &cobra.Command{
		Use:   "complete <domain>",
		Short: "Mark the caller's job for a domain complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.CompleteJob(ctx, args[0], jobID, caller)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	complete.Flags().Int64Var(&jobID, "job", 0, "job id (default: oldest pending)")
	cmd.AddCommand(complete)

	var limit int
	history := &cobra.Command{
		Use:   "history <domain>",
		Short: "List jobs for a domain, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.DomainJobHistory(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	history.Flags().IntVarP(&limit, "limit", "n", 20, "number of jobs")
	cmd.AddCommand(history)
	return cmd
}
