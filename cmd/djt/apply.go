package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cuemby/djt/pkg/client"
	"github.com/cuemby/djt/pkg/tracker"
	"github.com/cuemby/djt/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply jobs and status updates from a file",
	Long: `Apply djt resources from a YAML file. The file may hold several
documents separated by "---" and they are applied in order.

Examples:
  # Create a job and report its first page
  djt apply -f run.yaml

run.yaml:
  kind: Job
  spec:
    app_id: ocr
    tenant_id: t1
    patient_id: p1
    document_id: d1
    run_id: r1
    pages: 3
  ---
  kind: StatusUpdate
  spec:
    app_id: ocr
    tenant_id: t1
    patient_id: p1
    document_id: d1
    run_id: r1
    page_number: 1
    status: IN_PROGRESS`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply, - for stdin (required)")
	applyCmd.Flags().Bool("continue-on-error", false, "Keep applying after a failed document")
	_ = applyCmd.MarkFlagRequired("file")
}

// Resource is one document in an apply file
type Resource struct {
	APIVersion string    `yaml:"apiVersion"`
	Kind       string    `yaml:"kind"`
	Spec       yaml.Node `yaml:"spec"`
}

type keySpec struct {
	AppID      string `yaml:"app_id"`
	TenantID   string `yaml:"tenant_id"`
	PatientID  string `yaml:"patient_id"`
	DocumentID string `yaml:"document_id"`
	RunID      string `yaml:"run_id"`
}

type jobSpec struct {
	keySpec  `yaml:",inline"`
	Name     string         `yaml:"name"`
	Pages    int            `yaml:"pages"`
	Metadata map[string]any `yaml:"metadata"`
}

type statusUpdateSpec struct {
	keySpec    `yaml:",inline"`
	PageNumber *int           `yaml:"page_number"`
	Status     string         `yaml:"status"`
	Order      *int           `yaml:"order"`
	Metadata   map[string]any `yaml:"metadata"`
	Force      bool           `yaml:"force"`
	Name       string         `yaml:"name"`
	Pages      int            `yaml:"pages"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	keepGoing, _ := cmd.Flags().GetBool("continue-on-error")

	var in io.Reader = cmd.InOrStdin()
	if filename != "-" {
		f, err := os.Open(filename)
		if err != nil {
			return fmt.Errorf("failed to read file: %v", err)
		}
		defer f.Close()
		in = f
	}

	resources, err := decodeResources(in)
	if err != nil {
		return err
	}

	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	failed := 0
	for i, resource := range resources {
		if err := applyResource(cmd, c, resource); err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "✗ document %d (%s): %v\n", i+1, resource.Kind, err)
			if !keepGoing {
				return fmt.Errorf("apply stopped at document %d", i+1)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(resources))
	}
	return nil
}

// decodeResources reads every YAML document from r
func decodeResources(r io.Reader) ([]Resource, error) {
	dec := yaml.NewDecoder(r)
	var resources []Resource
	for {
		var resource Resource
		err := dec.Decode(&resource)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %v", err)
		}
		if resource.Kind == "" {
			return nil, fmt.Errorf("document %d: kind is required", len(resources)+1)
		}
		resources = append(resources, resource)
	}
	if len(resources) == 0 {
		return nil, fmt.Errorf("no documents found")
	}
	return resources, nil
}

func applyResource(cmd *cobra.Command, c *client.Client, resource Resource) error {
	switch resource.Kind {
	case "Job":
		var spec jobSpec
		if err := resource.Spec.Decode(&spec); err != nil {
			return fmt.Errorf("invalid job spec: %v", err)
		}
		return applyJob(cmd, c, spec)
	case "StatusUpdate":
		var spec statusUpdateSpec
		if err := resource.Spec.Decode(&spec); err != nil {
			return fmt.Errorf("invalid status update spec: %v", err)
		}
		return applyStatusUpdate(cmd, c, spec)
	default:
		return fmt.Errorf("unsupported resource kind: %s", resource.Kind)
	}
}

func applyJob(cmd *cobra.Command, c *client.Client, spec jobSpec) error {
	job, err := c.CreateJob(cmd.Context(), tracker.CreateJobRequest{
		AppID:      spec.AppID,
		TenantID:   spec.TenantID,
		PatientID:  spec.PatientID,
		DocumentID: spec.DocumentID,
		RunID:      spec.RunID,
		Name:       spec.Name,
		Pages:      spec.Pages,
		Metadata:   spec.Metadata,
	})
	if errors.Is(err, types.ErrDuplicateJob) {
		fmt.Fprintf(cmd.OutOrStdout(), "Job already exists: %s (skipping)\n", spec.key())
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Job created: %s (pages=%d)\n", job.Key, job.TotalPages)
	return nil
}

func applyStatusUpdate(cmd *cobra.Command, c *client.Client, spec statusUpdateSpec) error {
	job, err := c.SendStatusUpdate(cmd.Context(), &types.PipelineStatusUpdate{
		AppID:      spec.AppID,
		TenantID:   spec.TenantID,
		PatientID:  spec.PatientID,
		DocumentID: spec.DocumentID,
		RunID:      spec.RunID,
		PageNumber: spec.PageNumber,
		Status:     types.Status(spec.Status),
		Order:      spec.Order,
		Metadata:   spec.Metadata,
		Force:      spec.Force,
		Name:       spec.Name,
		Pages:      spec.Pages,
	})
	if errors.Is(err, types.ErrStaleStatus) && job != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Stale update ignored: %s is %s\n", job.Key, job.Status)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Status applied: %s is %s (version=%d)\n", job.Key, job.Status, job.Version)
	return nil
}

func (k keySpec) key() types.JobKey {
	return types.JobKey{
		AppID:      k.AppID,
		TenantID:   k.TenantID,
		PatientID:  k.PatientID,
		DocumentID: k.DocumentID,
		RunID:      k.RunID,
	}
}
