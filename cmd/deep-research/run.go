package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/orchestrator"
	"github.com/pdiddy/deep-research/internal/report"
	"github.com/pdiddy/deep-research/internal/search"
	"github.com/pdiddy/deep-research/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run [question]",
	Short: "Research a question and write a report",
	Long: `Run creates a research session for the question and drives it through
planning, discovery, analysis, critique and a bounded revision loop. The
finished report is written to <output-dir>/<session-id>/ as report.md,
numbered section files, metadata.yaml, references.yaml and references.bib.

Interrupting the command (Ctrl-C) fails the session at its current phase;
it can be continued with "deep-research resume".`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Continue a checkpointed session",
	Long: `Resume restores a session from its last checkpoint. A failed session
continues from the phase it failed in; a finished session rewrites its report.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	for _, c := range []*cobra.Command{runCmd, resumeCmd} {
		c.Flags().String("output-dir", "", "directory for finished reports (default reports)")
		c.Flags().String("fixtures", "", "use canned stage responses from a YAML file instead of Gemini")
		c.Flags().Bool("json", false, "print the session result as JSON")
	}
	runCmd.Flags().Int("max-revisions", 0, "maximum critique-driven revision cycles (default 2)")
	_ = viper.BindPFlag("orchestrator.max_revisions", runCmd.Flags().Lookup("max-revisions"))

	rootCmd.AddCommand(runCmd, resumeCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return errors.New("provide a research question")
	}
	return drive(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) (*orchestrator.Result, error) {
		return o.Run(ctx, query)
	})
}

func runResume(cmd *cobra.Command, args []string) error {
	return drive(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) (*orchestrator.Result, error) {
		return o.Resume(ctx, args[0])
	})
}

// drive wires the pipeline, runs fn under a signal-aware context and writes
// the report of a finished session.
func drive(cmd *cobra.Command, fn func(context.Context, *orchestrator.Orchestrator) (*orchestrator.Result, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if dir, _ := cmd.Flags().GetString("output-dir"); dir != "" {
		cfg.Orchestrator.OutputDir = dir
	}
	if path, _ := cmd.Flags().GetString("fixtures"); path != "" {
		cfg.Stage.Backend = types.StageFixture
		cfg.Stage.FixturesPath = path
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := newComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	res, runErr := fn(ctx, c.orch)
	if res == nil {
		return runErr
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if err := search.FormatJSON(res, out); err != nil {
			return err
		}
	} else {
		printTransitions(out, res.Transitions)
	}

	var failed *orchestrator.FailedError
	if errors.As(runErr, &failed) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Session %s failed during %s: %v\nContinue with: deep-research resume %s\n",
			failed.Session.ID, failed.Phase, failed.Err, failed.Session.ID)
		return runErr
	}
	if runErr != nil {
		return runErr
	}
	return writeReport(cmd, cfg, res)
}

func writeReport(cmd *cobra.Command, cfg types.PipelineConfig, res *orchestrator.Result) error {
	if res.Report == nil {
		return fmt.Errorf("session %s finished without a report", res.Session.ID)
	}
	dir := filepath.Join(cfg.Orchestrator.OutputDir, res.Session.ID)
	path, err := report.Write(dir, *res.Report)
	if err != nil {
		return err
	}

	missing, err := report.ValidateCitations(dir)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		logger.Warn("report cites unknown papers", zap.Strings("keys", missing))
	}

	md := res.Report.Metadata
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "\nSession:   %s\n", res.Session.ID)
	fmt.Fprintf(w, "Revisions: %d of %d\n", md.RevisionCount, md.MaxRevisions)
	fmt.Fprintf(w, "Papers:    %d available, %d unavailable\n", md.PapersAvailable, md.PapersUnavailable)
	if len(md.InsufficientSubTopics) > 0 {
		fmt.Fprintf(w, "Coverage:  insufficient for %s (see Limitations)\n", strings.Join(md.InsufficientSubTopics, ", "))
	}
	if md.ForcedApproval {
		fmt.Fprintf(w, "Verdict:   %s after %d revision(s), not approved\n", md.FinalVerdict, md.RevisionCount)
	}
	fmt.Fprintf(w, "Report:    %s\n", path)
	return nil
}

func printTransitions(w io.Writer, ts []orchestrator.Transition) {
	for _, t := range ts {
		fmt.Fprintf(w, "%-10s -> %-10s  %s\n", t.From, t.To, t.Reason)
	}
}
