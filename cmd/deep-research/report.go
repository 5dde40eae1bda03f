package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/deep-research/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Inspect written report directories",
}

var reportCheckCmd = &cobra.Command{
	Use:   "check <report-dir>",
	Short: "Summarize a report directory and validate its citations",
	Long: `Check reads metadata.yaml, references.yaml and the numbered section files
of a report directory written by "deep-research run". It prints the session
summary and fails when a section cites a paper missing from references.yaml.`,
	Args: cobra.ExactArgs(1),
	RunE: runReportCheck,
}

func init() {
	reportCmd.AddCommand(reportCheckCmd)
	rootCmd.AddCommand(reportCmd)
}

func runReportCheck(cmd *cobra.Command, args []string) error {
	dir := args[0]
	md, err := report.LoadMetadata(dir)
	if err != nil {
		return err
	}
	refs, err := report.LoadReferences(dir)
	if err != nil {
		return err
	}
	files, err := report.SectionFiles(dir)
	if err != nil {
		return err
	}
	missing, err := report.ValidateCitations(dir)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Session:    %s\n", md.SessionID)
	fmt.Fprintf(w, "Query:      %s\n", md.Query)
	fmt.Fprintf(w, "Revisions:  %d of %d\n", md.RevisionCount, md.MaxRevisions)
	fmt.Fprintf(w, "Sections:   %d\n", len(files))
	for _, f := range files {
		fmt.Fprintf(w, "  %s\n", filepath.Base(f))
	}
	fmt.Fprintf(w, "References: %d\n", len(refs))
	if len(md.InsufficientSubTopics) > 0 {
		fmt.Fprintf(w, "Coverage:   insufficient for %s\n", strings.Join(md.InsufficientSubTopics, ", "))
	}
	if len(missing) > 0 {
		return fmt.Errorf("%d citation(s) not in references: %s", len(missing), strings.Join(missing, ", "))
	}
	fmt.Fprintln(w, "Citations:  ok")
	return nil
}
