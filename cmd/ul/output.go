package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/viper"

	"uptimeline/internal/domain"
)

// printJSONOrTable renders known records as tables and everything else as JSON.
func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	switch items := v.(type) {
	case domain.Domain:
		return printDomains(tw, []domain.Domain{items})
	case []domain.Domain:
		return printDomains(tw, items)
	case domain.Validator:
		return printValidators(tw, []domain.Validator{items})
	case []domain.Validator:
		return printValidators(tw, items)
	case domain.Job:
		return printJobs(tw, []domain.Job{items})
	case []domain.Job:
		return printJobs(tw, items)
	case domain.Cycle:
		return printCycles(tw, []domain.Cycle{items})
	case []domain.Cycle:
		return printCycles(tw, items)
	case []domain.Submission:
		tw.AppendHeader(table.Row{"Validator", "Up", "Status", "Time (ms)", "Submitted"})
		for _, s := range items {
			tw.AppendRow(table.Row{s.ValidatorID, s.IsUp, s.StatusCode, s.ResponseTimeMs, unixTime(s.SubmittedAt)})
		}
	case []domain.Transfer:
		tw.AppendHeader(table.Row{"ID", "Recipient", "Amount", "Reason", "Domain", "Cycle", "TS"})
		for _, t := range items {
			tw.AppendRow(table.Row{t.ID, t.Recipient, t.Amount, t.Reason, t.DomainID, t.CycleID, t.TS})
		}
	case []domain.Event:
		tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
		for _, e := range items {
			tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID, e.Payload})
		}
	case []domain.APIKey:
		tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
		for _, k := range items {
			tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
		}
	default:
		return printJSON(v)
	}
	tw.Render()
	return nil
}

func printDomains(tw table.Writer, items []domain.Domain) error {
	tw.AppendHeader(table.Row{"Domain", "Owner", "Balance", "Interval", "Monitored", "Updated"})
	for _, d := range items {
		tw.AppendRow(table.Row{d.ID, d.Owner, d.Balance, time.Duration(d.IntervalSeconds) * time.Second, d.Monitored, d.UpdatedAt})
	}
	tw.Render()
	return nil
}

func printValidators(tw table.Writer, items []domain.Validator) error {
	tw.AppendHeader(table.Row{"Validator", "Active", "Jobs", "Last Assigned", "Registered"})
	for _, v := range items {
		tw.AppendRow(table.Row{v.ID, v.Active, v.TotalJobsAssigned, unixTime(v.LastAssignedAt), v.RegisteredAt})
	}
	tw.Render()
	return nil
}

func printJobs(tw table.Writer, items []domain.Job) error {
	tw.AppendHeader(table.Row{"ID", "Domain", "Validator", "Cycle", "Assigned", "Completed"})
	for _, j := range items {
		tw.AppendRow(table.Row{j.ID, j.DomainID, j.ValidatorID, j.CycleID, unixTime(j.AssignedAt), j.Completed})
	}
	tw.Render()
	return nil
}

func printCycles(tw table.Writer, items []domain.Cycle) error {
	tw.AppendHeader(table.Row{"Domain", "Cycle", "Phase", "Outcome", "Votes", "Deadline", "Validators"})
	for _, c := range items {
		tw.AppendRow(table.Row{
			c.DomainID, c.ID, c.Phase, c.Outcome,
			fmt.Sprintf("up %d down %d (%d/%d)", c.UpVotes, c.DownVotes, c.Submitted, c.Required),
			unixTime(c.Deadline), strings.Join(c.Validators, ","),
		})
	}
	tw.Render()
	return nil
}

func unixTime(ts int64) string {
	if ts == 0 {
		return "-"
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
