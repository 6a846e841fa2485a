package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/cuemby/djt/pkg/client"
	"github.com/cuemby/djt/pkg/jobkey"
	"github.com/cuemby/djt/pkg/tracker"
	"github.com/cuemby/djt/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Job commands
var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage jobs",
}

var jobCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a job explicitly",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := keyFromFlags(cmd)
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		pages, _ := cmd.Flags().GetInt("pages")

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		job, err := c.CreateJob(cmd.Context(), tracker.CreateJobRequest{
			AppID:      key.AppID,
			TenantID:   key.TenantID,
			PatientID:  key.PatientID,
			DocumentID: key.DocumentID,
			RunID:      key.RunID,
			Name:       name,
			Pages:      pages,
		})
		if err != nil {
			return fmt.Errorf("failed to create job: %w", err)
		}
		return printJob(cmd, job)
	},
}

var jobGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Show a job by storage key (app:tenant:patient:document:run)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := jobkey.NewRegistry().Parse(args[0])
		if err != nil {
			return err
		}

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		job, err := c.GetJob(cmd.Context(), key)
		if err != nil {
			return fmt.Errorf("failed to get job: %w", err)
		}
		return printJob(cmd, job)
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		filter := types.JobFilter{}
		filter.AppID, _ = flags.GetString("app")
		filter.TenantID, _ = flags.GetString("tenant")
		filter.PatientID, _ = flags.GetString("patient")
		filter.DocumentID, _ = flags.GetString("document")
		status, _ := flags.GetString("status")
		filter.Status = types.Status(status)
		filter.Limit, _ = flags.GetInt("limit")

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		jobs, err := c.ListJobs(cmd.Context(), filter)
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}

		output, _ := flags.GetString("output")
		if output != "table" {
			return encode(cmd.OutOrStdout(), output, jobs)
		}
		if len(jobs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tSTATUS\tPAGES\tVERSION\tUPDATED")
		for _, job := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
				job.Key, job.Status, job.TotalPages, job.Version, job.UpdatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Send a pipeline status update",
	Long: `Send a pipeline status update for one page, or for the whole job when
--page is 0.

The job is created on first update if it does not exist yet. A stale update
prints the current job and exits with an error.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := keyFromFlags(cmd)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		page, _ := flags.GetInt("page")
		status, _ := flags.GetString("status")
		force, _ := flags.GetBool("force")
		pages, _ := flags.GetInt("pages")

		update := &types.PipelineStatusUpdate{
			AppID:      key.AppID,
			TenantID:   key.TenantID,
			PatientID:  key.PatientID,
			DocumentID: key.DocumentID,
			RunID:      key.RunID,
			PageNumber: &page,
			Status:     types.Status(status),
			Force:      force,
			Pages:      pages,
		}
		if flags.Changed("order") {
			order, _ := flags.GetInt("order")
			update.Order = &order
		}

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		job, err := c.SendStatusUpdate(cmd.Context(), update)
		if errors.Is(err, types.ErrStaleStatus) && job != nil {
			_ = printJob(cmd, job)
		}
		if err != nil {
			return fmt.Errorf("failed to send update: %w", err)
		}
		return printJob(cmd, job)
	},
}

func init() {
	jobCmd.AddCommand(jobCreateCmd)
	jobCmd.AddCommand(jobGetCmd)
	jobCmd.AddCommand(jobListCmd)

	for _, cmd := range []*cobra.Command{jobCreateCmd, updateCmd} {
		addKeyFlags(cmd)
	}
	for _, cmd := range []*cobra.Command{jobCreateCmd, jobGetCmd, jobListCmd, updateCmd} {
		cmd.Flags().StringP("output", "o", "table", "Output format: table, json or yaml")
	}

	jobCreateCmd.Flags().String("name", "", "Job name")
	jobCreateCmd.Flags().Int("pages", 1, "Number of pages in the document")

	jobListCmd.Flags().String("app", "", "Filter by app ID")
	jobListCmd.Flags().String("tenant", "", "Filter by tenant ID (requires --app)")
	jobListCmd.Flags().String("patient", "", "Filter by patient ID (requires --tenant)")
	jobListCmd.Flags().String("document", "", "Filter by document ID (requires --patient)")
	jobListCmd.Flags().String("status", "", "Filter by aggregate status")
	jobListCmd.Flags().Int("limit", 0, "Maximum number of jobs to return")

	updateCmd.Flags().Int("page", 0, "Page number, 0 for the whole job")
	updateCmd.Flags().String("status", "", "New status")
	updateCmd.Flags().Int("order", 0, "Pipeline stage order")
	updateCmd.Flags().Bool("force", false, "Override the failed and ordering guards")
	updateCmd.Flags().Int("pages", 0, "Page count used if the update creates the job")
	_ = updateCmd.MarkFlagRequired("status")
}

func addKeyFlags(cmd *cobra.Command) {
	for _, name := range []string{"app", "tenant", "patient", "document", "run"} {
		cmd.Flags().String(name, "", name+" ID")
		_ = cmd.MarkFlagRequired(name)
	}
}

func keyFromFlags(cmd *cobra.Command) (types.JobKey, error) {
	flags := cmd.Flags()
	var key types.JobKey
	key.AppID, _ = flags.GetString("app")
	key.TenantID, _ = flags.GetString("tenant")
	key.PatientID, _ = flags.GetString("patient")
	key.DocumentID, _ = flags.GetString("document")
	key.RunID, _ = flags.GetString("run")
	return key, jobkey.NewRegistry().Validate(key)
}

func newClient(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("server")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	c, err := client.NewClient(addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	return c, nil
}

func printJob(cmd *cobra.Command, job *types.Job) error {
	output, _ := cmd.Flags().GetString("output")
	if output != "table" {
		return encode(cmd.OutOrStdout(), output, job)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Key:        %s\n", job.Key)
	if job.Name != "" {
		fmt.Fprintf(out, "Name:       %s\n", job.Name)
	}
	fmt.Fprintf(out, "Status:     %s\n", job.Status)
	fmt.Fprintf(out, "Pages:      %d\n", job.TotalPages)
	fmt.Fprintf(out, "Version:    %d\n", job.Version)
	fmt.Fprintf(out, "Updated:    %s\n", job.UpdatedAt.Format(time.RFC3339))

	pages := make([]int, 0, len(job.Pages))
	for n := range job.Pages {
		pages = append(pages, n)
	}
	sort.Ints(pages)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nPAGE\tSTATUS\tUPDATED")
	for _, n := range pages {
		p := job.Pages[n]
		label := fmt.Sprint(n)
		if n == types.JobLevelPage {
			label = "job"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", label, p.Status, p.LastUpdated.Format(time.RFC3339))
	}
	return w.Flush()
}

func encode(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		// Go through JSON so the wire field names are kept
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		return yaml.NewEncoder(w).Encode(doc)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
