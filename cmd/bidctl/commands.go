package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/app/bootstrap"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/domain/model"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/platform/config"
)

// cli holds what every subcommand shares once PersistentPreRunE has run.
type cli struct {
	cfg        *config.Config
	components *bootstrap.Components
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	app := &cli{cfg: cfg}

	root := &cobra.Command{
		Use:           "bidctl",
		Short:         "Queue, drain and inspect bid submissions",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			components, err := bootstrap.Build(cmd.Context(), app.cfg)
			if err != nil {
				return err
			}
			app.components = components
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app.components != nil {
				app.components.Close()
			}
		},
	}

	root.AddCommand(
		app.submitCmd(),
		app.drainCmd(),
		app.statusCmd(),
		app.auditCmd(),
		app.retryCmd(),
		app.cancelCmd(),
		app.listCmd(),
		app.portalsCmd(),
	)
	return root
}

func (c *cli) submitCmd() *cobra.Command {
	var (
		rfpID, title, deadline string
		docFile, docID, portal string
		priority               int
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a bid document for submission to a portal",
		RunE: func(cmd *cobra.Command, args []string) error {
			due, err := time.Parse(time.RFC3339, deadline)
			if err != nil {
				return fmt.Errorf("invalid --deadline %q (want RFC3339): %w", deadline, err)
			}
			if due.IsZero() {
				return fmt.Errorf("--deadline must be a real instant, got %q", deadline)
			}
			doc, err := readDocument(docFile, docID)
			if err != nil {
				return err
			}
			rfp := model.RFPMeta{ID: rfpID, Title: title, Deadline: due}
			job, err := c.components.Agent.SubmitBid(cmd.Context(), rfp, doc, portal, priority)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job queued successfully: %s\n", job.JobID)
			return nil
		},
	}
	cmd.Flags().StringVar(&rfpID, "rfp-id", "", "RFP identifier")
	cmd.Flags().StringVar(&title, "title", "", "RFP title")
	cmd.Flags().StringVar(&deadline, "deadline", "", "response deadline, RFC3339")
	cmd.Flags().StringVar(&docFile, "doc", "", "path to the bid document JSON payload")
	cmd.Flags().StringVar(&docID, "doc-id", "", "bid document id (defaults to the payload's document_id)")
	cmd.Flags().StringVar(&portal, "portal", config.PortalMock, "target portal key")
	cmd.Flags().IntVar(&priority, "priority", 0, "higher runs first")
	for _, name := range []string{"rfp-id", "deadline", "doc"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func readDocument(path, id string) (model.BidDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.BidDocument{}, fmt.Errorf("read bid document: %w", err)
	}
	content := map[string]any{}
	if err := json.Unmarshal(data, &content); err != nil {
		return model.BidDocument{}, fmt.Errorf("parse bid document %s: %w", path, err)
	}
	if id == "" {
		id, _ = content["document_id"].(string)
	}
	if id == "" {
		return model.BidDocument{}, fmt.Errorf("bid document has no document_id, pass --doc-id")
	}
	return model.BidDocument{ID: id, Content: content}, nil
}

func (c *cli) drainCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Process queued jobs until none are eligible",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !c.cfg.SharedLocks() {
				return fmt.Errorf("drain needs LOCK_BACKEND=%s or %s so it cannot race a running server", config.LockBackendFile, config.LockBackendRedis)
			}
			ctx := cmd.Context()
			agent := c.components.Agent
			requeued, err := agent.Recover(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Recovered %d queued job(s)\n", requeued)

			for {
				stats := agent.ProcessQueue(ctx)
				fmt.Fprintf(out, "dispatched=%d succeeded=%d retried=%d failed=%d skipped=%d\n",
					stats.Dispatched, stats.Succeeded, stats.Retried, stats.Failed, stats.Skipped)
				pending, _ := agent.QueueDepth()
				if !wait || pending == 0 {
					if pending > 0 {
						fmt.Fprintf(out, "%d job(s) waiting for retry backoff\n", pending)
					}
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(c.cfg.PollInterval):
				}
			}
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "keep draining until jobs waiting on backoff have run")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status job-id",
		Short: "Show a job's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result := c.components.Agent.GetJobStatus(cmd.Context(), args[0])
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.Found {
				return fmt.Errorf("job %s not found", args[0])
			}
			return nil
		},
	}
}

func (c *cli) auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit job-id",
		Short: "Print a job's audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := c.components.Agent.AuditTrail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-22s success=%t\n",
					e.Timestamp.Format(time.RFC3339), e.EventType, e.Success)
			}
			return nil
		},
	}
}

func (c *cli) retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry job-id",
		Short: "Re-queue a failed job that has retries left",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.components.Agent.RetryFailedSubmission(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s re-queued, run `bidctl drain` to process it\n", args[0])
			return nil
		},
	}
}

func (c *cli) cancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel job-id",
		Short: "Cancel a queued job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outcome, err := c.components.Agent.CancelJob(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s: %s\n", args[0], outcome)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "cancelled from bidctl", "reason recorded in the audit trail")
	return cmd
}

func (c *cli) listCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := c.components.Store.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, job := range jobs {
				if status != "" && !strings.EqualFold(string(job.Status), status) {
					continue
				}
				fmt.Fprintf(out, "%s  %-10s %-9s attempts=%d/%d rfp=%s\n",
					job.JobID, job.Status, job.Portal, job.Attempts, job.MaxRetries, job.RFPID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only show jobs in this status")
	return cmd
}

func (c *cli) portalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "portals",
		Short: "List registered portal adapters",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, key := range c.components.Registry.Keys() {
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
