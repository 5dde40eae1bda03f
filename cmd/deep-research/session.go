package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/deep-research/internal/search"
	"github.com/pdiddy/deep-research/internal/session"
	"github.com/pdiddy/deep-research/pkg/types"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect checkpointed research sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpointed sessions, oldest first",
	Args:  cobra.NoArgs,
	RunE:  runSessionList,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session record and the keys it has written",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionShow,
}

func init() {
	sessionCmd.PersistentFlags().Bool("json", false, "output as JSON")
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd)
	rootCmd.AddCommand(sessionCmd)
}

func openSessions() (*session.Store, func() error, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	kv, err := openStore(cfg.Cache)
	if err != nil {
		return nil, nil, err
	}
	return session.New(kv, session.WithLogger(logger.Named("session"))), kv.Close, nil
}

func runSessionList(cmd *cobra.Command, _ []string) error {
	store, closeFn, err := openSessions()
	if err != nil {
		return err
	}
	defer closeFn()

	sessions, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return search.FormatJSON(sessions, out)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPHASE\tREVISIONS\tCREATED\tQUERY")
	for _, s := range sessions {
		phase := string(s.Phase)
		if s.Phase == types.PhaseFailed {
			phase += " (" + string(s.FailedPhase) + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", s.ID, phase, s.RevisionCount, s.CreatedAt.Local().Format(time.DateTime), s.Query)
	}
	return w.Flush()
}

// sessionView is the printed form of a session.
type sessionView struct {
	Session types.Session `json:"session" yaml:"session"`
	Keys    []string      `json:"keys" yaml:"keys"`
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	store, closeFn, err := openSessions()
	if err != nil {
		return err
	}
	defer closeFn()

	sess, err := store.Restore(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	keys, err := store.Keys(sess.ID, "")
	if err != nil {
		return err
	}
	view := sessionView{Session: sess, Keys: keys}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return search.FormatJSON(view, out)
	}
	enc := yaml.NewEncoder(out)
	defer enc.Close()
	return enc.Encode(view)
}
