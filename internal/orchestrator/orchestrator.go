// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package orchestrator drives a research session through its phases:
// planning, searching, analyzing, critiquing, a bounded revision loop,
// reporting and finalizing. It enforces the revision bound no matter what
// the critic returns, checkpoints after every transition, and moves the
// session to failed with its state intact when a phase cannot complete.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/session"
	"github.com/pdiddy/deep-research/internal/stage"
	"github.com/pdiddy/deep-research/pkg/types"
)

const (
	defaultMaxConcurrentAcquisitions = 4
	defaultMaxDocumentChars          = 12000
)

var errTransitionCeiling = errors.New("transition ceiling reached")

// Discoverer finds papers for a sub-topic.
type Discoverer interface {
	Discover(ctx context.Context, st types.SubTopic) (types.Discovery, error)
}

// Documents is the document cache access path.
type Documents interface {
	Acquire(ctx context.Context, sourceRef string) (types.CacheEntry, error)
	AcquirePaper(ctx context.Context, p *types.Paper) (types.CacheEntry, error)
}

// Reasoner produces the output of every reasoning stage.
type Reasoner interface {
	Plan(ctx context.Context, in stage.PlanInput) (types.ResearchPlan, stage.Outcome, error)
	Analyze(ctx context.Context, in stage.AnalyzeInput) (types.Analysis, stage.Outcome, error)
	Critique(ctx context.Context, in stage.CritiqueInput) (types.CritiqueVerdict, stage.Outcome, error)
	WriteSection(ctx context.Context, in stage.SectionInput) (types.ReportSection, stage.Outcome, error)
}

// Transition is one recorded phase change.
type Transition struct {
	From   types.Phase `json:"from" yaml:"from"`
	To     types.Phase `json:"to" yaml:"to"`
	Reason string      `json:"reason" yaml:"reason"`
}

// Result is the outcome of driving a session.
type Result struct {
	Session     types.Session `json:"session" yaml:"session"`
	Report      *types.Report `json:"report,omitempty" yaml:"report,omitempty"`
	Transitions []Transition  `json:"transitions" yaml:"transitions"`
}

// FailedError reports a session that ended in the failed phase.
type FailedError struct {
	Session types.Session
	Phase   types.Phase
	Err     error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("session %s failed during %s: %v", e.Session.ID, e.Phase, e.Err)
}

func (e *FailedError) Unwrap() error { return e.Err }

// Orchestrator runs research sessions.
type Orchestrator struct {
	store  *session.Store
	search Discoverer
	docs   Documents
	stages Reasoner
	cfg    types.OrchestratorConfig
	logger *zap.Logger
	now    func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator's logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock sets the time source used for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator. A MaxRevisions of zero disables revision
// cycles; negative values are treated as zero. Other zero values in cfg take
// the defaults.
func New(store *session.Store, search Discoverer, docs Documents, stages Reasoner, cfg types.OrchestratorConfig, opts ...Option) *Orchestrator {
	if cfg.MaxRevisions < 0 {
		cfg.MaxRevisions = 0
	}
	if cfg.MaxConcurrentAcquisitions <= 0 {
		cfg.MaxConcurrentAcquisitions = defaultMaxConcurrentAcquisitions
	}
	if cfg.MaxDocumentChars <= 0 {
		cfg.MaxDocumentChars = defaultMaxDocumentChars
	}
	if len(cfg.Sections) == 0 {
		cfg.Sections = types.DefaultSections
	}
	o := &Orchestrator{
		store:  store,
		search: search,
		docs:   docs,
		stages: stages,
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run creates a session for query and drives it to done or failed.
func (o *Orchestrator) Run(ctx context.Context, query string) (*Result, error) {
	sess := o.store.Create(query)
	o.logger.Info("session started", zap.String("session", sess.ID), zap.String("query", query))
	return o.drive(ctx, sess.ID)
}

// Resume restores a checkpointed session and continues it. A failed session
// continues from the phase it failed in; a done session returns its report.
func (o *Orchestrator) Resume(ctx context.Context, id string) (*Result, error) {
	sess, err := o.store.Restore(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Phase == types.PhaseFailed {
		from := sess.FailedPhase
		if from == "" {
			from = types.PhasePlanning
		}
		if _, err := o.store.UpdateSession(id, func(s *types.Session) {
			s.Phase = from
			s.Resume = from
			s.FailedPhase = ""
			s.Error = ""
		}); err != nil {
			return nil, err
		}
		o.logger.Info("resuming session", zap.String("session", id), zap.String("phase", string(from)))
	}
	return o.drive(ctx, id)
}

// Cancel marks a session cancelled. It stops before its next phase starts;
// document fetches already in flight are left to finish.
func (o *Orchestrator) Cancel(id string) error {
	return o.store.Cancel(id)
}

// maxTransitions bounds the transitions of one drive: the first pass, one
// revising-searching-analyzing-critiquing loop per allowed revision, and
// the closing phases.
func (o *Orchestrator) maxTransitions() int {
	return 6 + 4*(o.cfg.MaxRevisions+1)
}

func (o *Orchestrator) drive(ctx context.Context, id string) (*Result, error) {
	res := &Result{}
	log := o.logger.With(zap.String("session", id))

	for {
		sess, err := o.store.Session(id)
		if err != nil {
			return nil, err
		}
		res.Session = sess

		switch sess.Phase {
		case types.PhaseDone:
			var report types.Report
			if _, err := o.store.Get(id, session.KeyReport, &report); err != nil {
				return res, err
			}
			res.Report = &report
			log.Info("session done", zap.Int("revisions", sess.RevisionCount))
			return res, nil
		case types.PhaseFailed:
			return res, &FailedError{Session: sess, Phase: sess.FailedPhase, Err: errors.New(sess.Error)}
		}

		if o.store.Cancelled(id) {
			return o.fail(ctx, res, sess, session.ErrCancelled)
		}
		if err := ctx.Err(); err != nil {
			return o.fail(ctx, res, sess, err)
		}
		if len(res.Transitions) >= o.maxTransitions() {
			return o.fail(ctx, res, sess, errTransitionCeiling)
		}

		log.Debug("phase started", zap.String("phase", string(sess.Phase)))
		next, reason, err := o.step(ctx, sess)
		if err != nil {
			return o.fail(ctx, res, sess, err)
		}

		if _, err := o.store.UpdateSession(id, func(s *types.Session) { s.Phase = next }); err != nil {
			return nil, err
		}
		res.Transitions = append(res.Transitions, Transition{From: sess.Phase, To: next, Reason: reason})
		log.Info("phase transition",
			zap.String("from", string(sess.Phase)),
			zap.String("to", string(next)),
			zap.String("reason", reason),
			zap.Int("revisions", sess.RevisionCount))
		o.checkpoint(ctx, id)
	}
}

func (o *Orchestrator) step(ctx context.Context, sess types.Session) (types.Phase, string, error) {
	switch sess.Phase {
	case types.PhasePlanning:
		return o.plan(ctx, sess)
	case types.PhaseSearching:
		return o.searchPhase(ctx, sess)
	case types.PhaseAnalyzing:
		return o.analyze(ctx, sess)
	case types.PhaseCritiquing:
		return o.critique(ctx, sess)
	case types.PhaseRevising:
		return o.revise(ctx, sess)
	case types.PhaseReporting:
		return o.writeSections(ctx, sess)
	case types.PhaseFinalizing:
		return o.finalize(ctx, sess)
	}
	return "", "", fmt.Errorf("unknown phase %q", sess.Phase)
}

// fail moves the session to failed, keeping every value written so far, and
// checkpoints it even when ctx has ended.
func (o *Orchestrator) fail(ctx context.Context, res *Result, sess types.Session, cause error) (*Result, error) {
	failed, err := o.store.UpdateSession(sess.ID, func(s *types.Session) {
		s.FailedPhase = sess.Phase
		s.Phase = types.PhaseFailed
		s.Error = cause.Error()
	})
	if err != nil {
		return nil, err
	}
	res.Session = failed
	res.Transitions = append(res.Transitions, Transition{From: sess.Phase, To: types.PhaseFailed, Reason: cause.Error()})
	o.logger.Error("session failed",
		zap.String("session", sess.ID),
		zap.String("phase", string(sess.Phase)),
		zap.Error(cause))
	o.checkpoint(context.WithoutCancel(ctx), sess.ID)
	return res, &FailedError{Session: failed, Phase: sess.Phase, Err: cause}
}

func (o *Orchestrator) checkpoint(ctx context.Context, id string) {
	if err := o.store.Checkpoint(ctx, id); err != nil {
		o.logger.Warn("checkpoint failed", zap.String("session", id), zap.Error(err))
	}
}
