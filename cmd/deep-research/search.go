package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/deep-research/internal/search"
	"github.com/pdiddy/deep-research/pkg/types"
)

var searchCmd = &cobra.Command{
	Use:   "search [question]",
	Short: "Search academic APIs for candidate papers",
	Long: `Search queries arXiv, Semantic Scholar, OpenAlex and PubMed for papers
matching a research question or structured query parameters. Results are
deduplicated across sources and ranked by relevance and recency.

With --discover the question is treated as a sub-topic: the query is refined
until the candidate count falls within the configured bounds and the top
papers are selected, exactly as a research session would. --save writes the
discovery trace to a YAML file; --from-trace replays the sub-topic recorded
in a saved trace against the current sources.`,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().String("author", "", "filter by author name")
	searchCmd.Flags().String("keywords", "", "filter by keywords (comma-separated)")
	searchCmd.Flags().String("from", "", "publication date range start (YYYY-MM-DD)")
	searchCmd.Flags().String("to", "", "publication date range end (YYYY-MM-DD)")
	searchCmd.Flags().Int("max-results", 0, "maximum number of results per source (default 25)")
	searchCmd.Flags().Bool("json", false, "output results as JSON")
	searchCmd.Flags().Bool("discover", false, "run sub-topic discovery with query refinement")
	searchCmd.Flags().String("save", "", "write the discovery trace to this YAML file (implies --discover)")
	searchCmd.Flags().String("from-trace", "", "re-run discovery for the sub-topic in a saved trace file (implies --discover)")

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if n, _ := cmd.Flags().GetInt("max-results"); n > 0 {
		cfg.Search.MaxResults = n
	}

	agg := newAggregator(cfg.Search, logger)
	out := cmd.OutOrStdout()
	asJSON, _ := cmd.Flags().GetBool("json")
	savePath, _ := cmd.Flags().GetString("save")
	discover, _ := cmd.Flags().GetBool("discover")

	if tracePath, _ := cmd.Flags().GetString("from-trace"); tracePath != "" {
		prev, err := search.ReadTraceFile(tracePath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Replaying %s: previously %d candidates, %d papers after %d refinement(s)\n",
			prev.SubTopic.ID, prev.Discovery.CandidateCount, len(prev.Discovery.Papers), prev.Discovery.Refinements)
		return runDiscover(cmd, agg, prev.SubTopic, savePath, asJSON)
	}

	q, err := queryFromFlags(cmd, args)
	if err != nil {
		return err
	}
	if !discover && savePath == "" {
		results, backendErrs, err := agg.Search(cmd.Context(), q)
		if err != nil {
			return err
		}
		for _, e := range backendErrs {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", e)
		}
		if asJSON {
			return search.FormatJSON(results, out)
		}
		search.FormatTable(results, out)
		return nil
	}

	st := types.SubTopic{
		ID:                "st-1",
		Description:       q.FreeText,
		Priority:          1,
		SuggestedKeywords: q.Keywords,
	}
	if q.Author != "" {
		st.SearchGuidance.MustInclude = []string{q.Author}
	}
	return runDiscover(cmd, agg, st, savePath, asJSON)
}

// runDiscover runs sub-topic discovery, optionally saving the trace.
func runDiscover(cmd *cobra.Command, agg *search.Aggregator, st types.SubTopic, savePath string, asJSON bool) error {
	out := cmd.OutOrStdout()
	d, err := agg.Discover(cmd.Context(), st)
	if err != nil {
		return err
	}
	if savePath != "" {
		if err := search.WriteTraceFile(savePath, agg.NewTrace(st, d)); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Trace saved to %s\n", savePath)
	}
	if asJSON {
		return search.FormatJSON(d, out)
	}
	search.FormatDiscovery(d, out)
	return nil
}

// queryFromFlags builds a query from the positional question and the
// structured filter flags.
func queryFromFlags(cmd *cobra.Command, args []string) (search.Query, error) {
	q := search.Query{FreeText: strings.TrimSpace(strings.Join(args, " "))}
	q.Author, _ = cmd.Flags().GetString("author")
	if kw, _ := cmd.Flags().GetString("keywords"); kw != "" {
		for _, k := range strings.Split(kw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				q.Keywords = append(q.Keywords, k)
			}
		}
	}

	var err error
	if q.DateFrom, err = dateFlag(cmd, "from"); err != nil {
		return q, err
	}
	if q.DateTo, err = dateFlag(cmd, "to"); err != nil {
		return q, err
	}
	if q.IsEmpty() {
		return q, errors.New("provide a research question, --keywords or --author")
	}
	return q, nil
}

func dateFlag(cmd *cobra.Command, name string) (time.Time, error) {
	s, _ := cmd.Flags().GetString(name)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: want YYYY-MM-DD: %w", name, err)
	}
	return t, nil
}
