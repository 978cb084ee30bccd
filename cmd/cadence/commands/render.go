package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/cadence/pulse/schedule"
	"github.com/teranos/cadence/sym"
)

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJobs(cmd *cobra.Command, jobs []*schedule.Job) error {
	if wantJSON(cmd) {
		if jobs == nil {
			jobs = []*schedule.Job{}
		}
		return writeJSON(cmd.OutOrStdout(), jobs)
	}
	if len(jobs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
		return nil
	}
	return pterm.DefaultTable.
		WithHasHeader().
		WithWriter(cmd.OutOrStdout()).
		WithData(jobRows(jobs)).
		Render()
}

func jobRows(jobs []*schedule.Job) pterm.TableData {
	rows := pterm.TableData{{"ID", "TITLE", "TYPE", "SCHEDULE", "STATUS", "RETRIES", "NEXT RUN"}}
	for _, j := range jobs {
		rows = append(rows, []string{
			j.ID,
			j.Title,
			string(j.Type),
			j.Schedule,
			statusCell(string(j.Status), j.Active),
			fmt.Sprintf("%d/%d", j.CurrentRetries, j.MaxRetries),
			timeCell(j.NextRunAt),
		})
	}
	return rows
}

// printJob prints one job and, when given, its latest attempts
func printJob(cmd *cobra.Command, job *schedule.Job, attempts []*schedule.Attempt) error {
	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		if attempts == nil {
			return writeJSON(out, job)
		}
		return writeJSON(out, struct {
			*schedule.Job
			Attempts []*schedule.Attempt `json:"attempts"`
		}{job, attempts})
	}

	fields := pterm.TableData{
		{"ID", job.ID},
		{"Title", job.Title},
		{"Type", string(job.Type)},
		{"Schedule", fmt.Sprintf("%s (%s)", job.Schedule, job.Kind)},
		{"Status", statusCell(string(job.Status), job.Active)},
		{"Retries", fmt.Sprintf("%d of %d", job.CurrentRetries, job.MaxRetries)},
		{"Last run", timeCell(job.LastRunAt)},
		{"Next run", timeCell(job.NextRunAt)},
		{"Created", job.CreatedAt.Local().Format(time.DateTime)},
	}
	if job.Description != "" {
		fields = append(fields, []string{"Description", job.Description})
	}
	if job.CreatedBy != "" {
		fields = append(fields, []string{"Created by", job.CreatedBy})
	}
	if len(job.Payload) > 0 {
		fields = append(fields, []string{"Payload", string(job.Payload)})
	}
	if job.LastError != "" {
		fields = append(fields, []string{"Last error", job.LastError})
	}
	if err := pterm.DefaultTable.WithWriter(out).WithData(fields).Render(); err != nil {
		return err
	}

	if len(attempts) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	return printAttempts(cmd, attempts)
}

func printAttempts(cmd *cobra.Command, attempts []*schedule.Attempt) error {
	if wantJSON(cmd) {
		if attempts == nil {
			attempts = []*schedule.Attempt{}
		}
		return writeJSON(cmd.OutOrStdout(), attempts)
	}
	if len(attempts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No attempts")
		return nil
	}
	rows := pterm.TableData{{"STARTED", "STATUS", "RETRY", "DURATION", "OUTPUT"}}
	for _, a := range attempts {
		detail := a.Error
		if detail == "" {
			detail = string(a.Output)
		}
		rows = append(rows, []string{
			a.StartedAt.Local().Format(time.DateTime),
			statusCell(string(a.Status), true),
			fmt.Sprintf("%d", a.RetryCount),
			durationCell(a.DurationMs),
			truncate(detail, 60),
		})
	}
	return pterm.DefaultTable.
		WithHasHeader().
		WithWriter(cmd.OutOrStdout()).
		WithData(rows).
		Render()
}

func statusCell(status string, active bool) string {
	cell := status
	if glyph := sym.ForStatus(status); glyph != "" {
		cell = statusColor(status)(glyph) + " " + status
	}
	if !active {
		cell += " (inactive)"
	}
	return cell
}

func statusColor(status string) func(a ...interface{}) string {
	switch status {
	case "completed":
		return pterm.LightGreen
	case "failed":
		return pterm.Red
	case "retrying", "pending":
		return pterm.Yellow
	default:
		return pterm.LightCyan
	}
}

func timeCell(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func durationCell(ms *int64) string {
	if ms == nil {
		return "-"
	}
	return (time.Duration(*ms) * time.Millisecond).String()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
