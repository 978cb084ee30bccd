package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/pulse/engine"
	"github.com/teranos/cadence/pulse/schedule"
	"github.com/teranos/cadence/sym"
)

// JobCmd groups the job management commands
var JobCmd = &cobra.Command{
	Use:   "job",
	Short: sym.Pulse + " Create, inspect and control jobs",
	Long: sym.Pulse + ` Create, inspect and control jobs.

Job commands write to the shared database and return immediately. A running
daemon arms new and changed jobs on its next reconcile pass; 'job run' is the
exception and executes the job in this process.

Examples:
  cadence job add --title backup --type script --cron '0 3 * * *' \
      --payload '{"script_path":"./backup.sh"}'
  cadence job add --title hello --type function --in 10m --payload '{"function":"echo","params":{"hi":1}}'
  cadence job ls --status scheduled
  cadence job show <id>
  cadence job logs <id> --limit 20
  cadence job cancel <id>`,
}

var jobAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a job",
	Args:  cobra.NoArgs,
	RunE:  runJobAdd,
}

var jobImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Create jobs from a TOML manifest ('-' reads stdin)",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobImport,
}

var jobListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List jobs",
	Args:    cobra.NoArgs,
	RunE:    runJobList,
}

var jobShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a job and its latest attempts",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobShow,
}

var jobUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Edit a job definition",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobUpdate,
}

var jobScheduleCmd = &cobra.Command{
	Use:   "schedule <id>",
	Short: "Re-arm a job, resetting a finished job's retry count",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobSchedule,
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a job so it never fires again",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobCancel,
}

var jobRunCmd = &cobra.Command{
	Use:   "run <id>",
	Short: "Execute a job now, in this process",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobRun,
}

var jobLogsCmd = &cobra.Command{
	Use:   "logs <id>",
	Short: "Show a job's attempt history, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobLogs,
}

var jobRemoveCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"delete"},
	Short:   "Delete a job and its history",
	Args:    cobra.ExactArgs(1),
	RunE:    runJobRemove,
}

func init() {
	addDefinitionFlags(jobAddCmd)
	jobAddCmd.Flags().String("owner", os.Getenv("USER"), "Recorded as the job's creator")
	jobAddCmd.Flags().Bool("inactive", false, "Store the job without arming it")
	_ = jobAddCmd.MarkFlagRequired("title")
	_ = jobAddCmd.MarkFlagRequired("type")

	jobImportCmd.Flags().String("owner", os.Getenv("USER"), "Recorded as the creator of every imported job")

	jobListCmd.Flags().String("owner", "", "Only jobs created by this owner")
	jobListCmd.Flags().String("status", "", "Only jobs in this status")
	jobListCmd.Flags().String("type", "", "Only jobs of this type")
	jobListCmd.Flags().Int("limit", schedule.DefaultListLimit, "Maximum number of jobs")
	jobListCmd.Flags().Int("offset", 0, "Skip this many jobs")

	addDefinitionFlags(jobUpdateCmd)
	jobUpdateCmd.Flags().Bool("active", true, "Arm (true) or disarm (false) the job")

	jobLogsCmd.Flags().Int("limit", 20, "Maximum number of attempts")
	jobLogsCmd.Flags().Int("offset", 0, "Skip this many attempts")

	for _, c := range []*cobra.Command{jobAddCmd, jobImportCmd, jobListCmd, jobShowCmd, jobUpdateCmd, jobScheduleCmd, jobCancelCmd, jobRunCmd, jobLogsCmd} {
		c.Flags().Bool("json", false, "Output as JSON")
	}

	JobCmd.AddCommand(jobAddCmd, jobImportCmd, jobListCmd, jobShowCmd, jobUpdateCmd,
		jobScheduleCmd, jobCancelCmd, jobRunCmd, jobLogsCmd, jobRemoveCmd)
}

// addDefinitionFlags registers the flags shared by add and update
func addDefinitionFlags(c *cobra.Command) {
	c.Flags().String("title", "", "Job title")
	c.Flags().String("description", "", "Free-form description")
	c.Flags().String("type", "", "Job type: http, function, script, email")
	c.Flags().String("at", "", "Run once at this RFC3339 instant")
	c.Flags().Duration("in", 0, "Run once after this delay (e.g. 10m)")
	c.Flags().String("cron", "", "Run on this cron expression (5 fields, or @hourly, @every 1h30m ...)")
	c.Flags().String("payload", "", "JSON payload handed to the job type's executor")
	c.Flags().String("payload-file", "", "Read the JSON payload from a file ('-' reads stdin)")
	c.Flags().Int("max-retries", -1, "Retries after a failed run (-1 uses engine.default_max_retries)")
}

// withClient runs fn against a passive engine and closes it afterwards
func withClient(cmd *cobra.Command, fn func(ctx context.Context, eng *engine.Engine) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := openRuntime(ctx, runtimeOptions{passive: true})
	if err != nil {
		return err
	}
	fnErr := fn(ctx, rt.engine)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := rt.Close(closeCtx); err != nil && fnErr == nil {
		return err
	}
	return fnErr
}

func runJobAdd(cmd *cobra.Command, args []string) error {
	def, err := readDefinition(cmd, time.Now())
	if err != nil {
		return err
	}
	owner, _ := cmd.Flags().GetString("owner")
	inactive, _ := cmd.Flags().GetBool("inactive")

	req := engine.JobRequest{
		Title:       def.title,
		Description: def.description,
		Type:        schedule.JobType(def.jobType),
		Kind:        def.kind,
		Schedule:    def.schedule,
		Payload:     def.payload,
		MaxRetries:  def.maxRetries,
		CreatedBy:   owner,
		Inactive:    inactive,
	}
	if req.Kind == "" {
		return errors.WithHint(
			errors.NewInvalidRequestError("job needs a schedule"),
			"pass one of --at, --in or --cron",
		)
	}

	return withClient(cmd, func(ctx context.Context, eng *engine.Engine) error {
		job, err := eng.CreateJob(ctx, req)
		if job != nil {
			if printErr := printJob(cmd, job, nil); printErr != nil {
				return printErr
			}
		}
		return err
	})
}

func runJobImport(cmd *cobra.Command, args []string) error {
	r, closeFn, err := openInput(args[0])
	if err != nil {
		return err
	}
	defer closeFn()

	reqs, err := parseJobFile(r, time.Now())
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", args[0])
	}
	owner, _ := cmd.Flags().GetString("owner")

	return withClient(cmd, func(ctx context.Context, eng *engine.Engine) error {
		var created []*schedule.Job
		for i := range reqs {
			if reqs[i].CreatedBy == "" {
				reqs[i].CreatedBy = owner
			}
			job, err := eng.CreateJob(ctx, reqs[i])
			if job != nil {
				created = append(created, job)
			}
			if err != nil {
				_ = printJobs(cmd, created)
				return errors.Wrapf(err, "job %d (%q)", i+1, reqs[i].Title)
			}
		}
		return printJobs(cmd, created)
	})
}

func runJobList(cmd *cobra.Command, args []string) error {
	owner, _ := cmd.Flags().GetString("owner")
	status, _ := cmd.Flags().GetString("status")
	jobType, _ := cmd.Flags().GetString("type")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	filter := schedule.ListFilter{
		CreatedBy: owner,
		Status:    schedule.Status(status),
		Type:      schedule.JobType(jobType),
		Limit:     limit,
		Offset:    offset,
	}
	return withClient(cmd, func(ctx context.Context, eng *engine.Engine) error {
		jobs, err := eng.ListJobs(ctx, filter)
		if err != nil {
			return err
		}
		return printJobs(cmd, jobs)
	})
}

func runJobShow(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, eng *engine.Engine) error {
		job, err := eng.GetJob(ctx, args[0])
		if err != nil {
			return err
		}
		attempts, err := eng.Attempts(ctx, job.ID, 5, 0)
		if err != nil {
			return err
		}
		return printJob(cmd, job, attempts)
	})
}

func runJobUpdate(cmd *cobra.Command, args []string) error {
	def, err := readDefinition(cmd, time.Now())
	if err != nil {
		return err
	}
	upd := def.update(cmd)
	if upd.Empty() {
		return errors.WithHint(errors.NewInvalidRequestError("nothing to update"), "pass at least one definition flag")
	}

	return withClient(cmd, func(ctx context.Context, eng *engine.Engine) error {
		job, err := eng.UpdateJob(ctx, args[0], upd)
		if job != nil {
			if printErr := printJob(cmd, job, nil); printErr != nil {
				return printErr
			}
		}
		return err
	})
}

func runJobSchedule(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, eng *engine.Engine) error {
		job, err := eng.ScheduleJob(ctx, args[0])
		if job != nil {
			if printErr := printJob(cmd, job, nil); printErr != nil {
				return printErr
			}
		}
		return err
	})
}

func runJobCancel(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, eng *engine.Engine) error {
		job, err := eng.Cancel(ctx, args[0])
		if err != nil {
			return err
		}
		return printJob(cmd, job, nil)
	})
}

func runJobRun(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, eng *engine.Engine) error {
		attempt, err := eng.ExecuteNow(ctx, args[0])
		if err != nil {
			return err
		}
		if err := printAttempts(cmd, []*schedule.Attempt{attempt}); err != nil {
			return err
		}
		if attempt.Status != schedule.AttemptCompleted {
			return errors.Newf("run failed: %s", attempt.Error)
		}
		return nil
	})
}

func runJobLogs(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	return withClient(cmd, func(ctx context.Context, eng *engine.Engine) error {
		attempts, err := eng.Attempts(ctx, args[0], limit, offset)
		if err != nil {
			return err
		}
		return printAttempts(cmd, attempts)
	})
}

func runJobRemove(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, eng *engine.Engine) error {
		if err := eng.DeleteJob(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s deleted job %s\n", sym.OK, args[0])
		return nil
	})
}

// definition holds the job definition flags as given on the command line
type definition struct {
	title       string
	description string
	jobType     string
	kind        schedule.Kind
	schedule    string
	payload     json.RawMessage
	maxRetries  *int
}

// readDefinition collects the definition flags. now anchors --in.
func readDefinition(cmd *cobra.Command, now time.Time) (*definition, error) {
	f := cmd.Flags()
	def := &definition{}
	def.title, _ = f.GetString("title")
	def.description, _ = f.GetString("description")
	def.jobType, _ = f.GetString("type")

	at, _ := f.GetString("at")
	in, _ := f.GetDuration("in")
	cronExpr, _ := f.GetString("cron")
	kind, sched, err := scheduleFrom(at, in, cronExpr, now)
	if err != nil {
		return nil, err
	}
	def.kind, def.schedule = kind, sched

	payload, _ := f.GetString("payload")
	payloadFile, _ := f.GetString("payload-file")
	switch {
	case payload != "" && payloadFile != "":
		return nil, errors.NewInvalidRequestError("--payload and --payload-file are mutually exclusive")
	case payloadFile != "":
		r, closeFn, err := openInput(payloadFile)
		if err != nil {
			return nil, err
		}
		defer closeFn()
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", payloadFile)
		}
		payload = string(data)
	}
	if payload != "" {
		if !json.Valid([]byte(payload)) {
			return nil, errors.NewInvalidRequestError("payload is not valid JSON")
		}
		def.payload = json.RawMessage(payload)
	}

	if n, _ := f.GetInt("max-retries"); n >= 0 {
		def.maxRetries = &n
	}
	return def, nil
}

// scheduleFrom turns the mutually exclusive --at, --in and --cron flags into
// a kind and schedule string. All empty yields an empty kind.
func scheduleFrom(at string, in time.Duration, cronExpr string, now time.Time) (schedule.Kind, string, error) {
	set := 0
	for _, given := range []bool{at != "", in != 0, cronExpr != ""} {
		if given {
			set++
		}
	}
	switch {
	case set > 1:
		return "", "", errors.NewInvalidRequestError("--at, --in and --cron are mutually exclusive")
	case at != "":
		return schedule.KindOneTime, at, nil
	case in != 0:
		return schedule.KindOneTime, now.Add(in).UTC().Format(time.RFC3339), nil
	case cronExpr != "":
		return schedule.KindRecurring, cronExpr, nil
	}
	return "", "", nil
}

// update keeps only the flags the user actually set
func (d *definition) update(cmd *cobra.Command) schedule.JobUpdate {
	f := cmd.Flags()
	var upd schedule.JobUpdate
	if f.Changed("title") {
		upd.Title = &d.title
	}
	if f.Changed("description") {
		upd.Description = &d.description
	}
	if f.Changed("type") {
		t := schedule.JobType(d.jobType)
		upd.Type = &t
	}
	if d.kind != "" {
		upd.Kind = &d.kind
		upd.Schedule = &d.schedule
	}
	if d.payload != nil {
		upd.Payload = &d.payload
	}
	if d.maxRetries != nil {
		upd.MaxRetries = d.maxRetries
	}
	if f.Changed("active") {
		active, _ := f.GetBool("active")
		upd.Active = &active
	}
	return upd
}

// openInput opens path, or stdin for "-"
func openInput(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open %s", path)
	}
	return f, func() { f.Close() }, nil
}
