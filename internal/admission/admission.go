// Package admission decides which (candidate, job) matches may start a
// vetting conversation. Stateless filters run as an ordered chain; admitted
// matches then go through a transactional create that enforces dedup and the
// per-candidate concurrency cap.
package admission

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/screenvet/screenvet/internal/models"
	"github.com/screenvet/screenvet/internal/store"
	"github.com/screenvet/screenvet/internal/vetting"
)

// Intake is the unit flowing through the filter chain: one screened candidate
// with the matches that survived the previous steps.
type Intake struct {
	Candidate models.Candidate
	Matches   []*models.Match
}

// Filter represents a single admission step applied to an intake.
type Filter interface {
	Name() string
	Apply(ctx context.Context, intake *Intake) (Step, error)
}

// Step describes the result of executing an admission step.
type Step struct {
	Initial int
	Dropped int
	Left    int
}

// Result summarizes one admission call.
type Result struct {
	Created []*models.Session
	Queued  []*models.Session
	Skipped int
}

// CreatedIDs returns the ids of sessions admitted straight to pending.
func (r *Result) CreatedIDs() []int64 {
	ids := make([]int64, 0, len(r.Created))
	for _, sess := range r.Created {
		ids = append(ids, sess.ID)
	}
	return ids
}

// Controller runs the admission pipeline.
type Controller struct {
	cfg      *vetting.Config
	sessions *store.SessionStore
	steps    []Filter
	logger   *zap.Logger
}

// NewController wires the admission pipeline with its filter chain.
func NewController(cfg *vetting.Config, sessions *store.SessionStore, jobs JobFlags, logger *zap.Logger) *Controller {
	cfg.Normalize()
	if logger == nil {
		logger = zap.NewNop()
	}

	steps := []Filter{
		NewForwardOnly(cfg.EnabledSince),
		NewJobEnablement(jobs, cfg.Enabled, logger),
	}

	return &Controller{
		cfg:      cfg,
		sessions: sessions,
		steps:    steps,
		logger:   logger,
	}
}

// Initiate admits a screened candidate's matches. Each surviving match is
// created as a session in pending or queued status inside its own
// transaction; the dedup and concurrency checks run in that same transaction.
// A failure on one match never aborts the rest.
func (c *Controller) Initiate(ctx context.Context, candidate models.Candidate, matches []*models.Match) (*Result, error) {
	intake := &Intake{Candidate: candidate, Matches: matches}

	for _, step := range c.steps {
		info, err := step.Apply(ctx, intake)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}

		c.logger.Info("admission step",
			zap.String("name", step.Name()),
			zap.String("candidate", candidate.Email),
			zap.Int("initial", info.Initial),
			zap.Int("dropped", info.Dropped),
			zap.Int("left", info.Left),
		)
	}

	result := &Result{Skipped: len(matches) - len(intake.Matches)}

	for _, match := range intake.Matches {
		sess := &models.Session{
			ScreeningID:    candidate.ScreeningID,
			CandidateName:  candidate.Name,
			CandidateEmail: candidate.Email,
			JobID:          match.JobID,
			JobTitle:       match.JobTitle,
			RecruiterEmail: match.RecruiterEmail,
			MatchContext:   match.Context,
			MaxTurns:       c.cfg.MaxTurns,
		}

		admitted, err := c.sessions.Admit(ctx, sess, c.cfg.MaxConcurrentSessions, c.cfg.RescreenAfter)
		if err != nil {
			c.logger.Warn("admission failed for match",
				zap.String("candidate", candidate.Email),
				zap.String("job_id", match.JobID),
				zap.Error(err),
			)
			result.Skipped++
			continue
		}

		switch {
		case admitted.Skipped:
			c.logger.Debug("match skipped",
				zap.String("candidate", candidate.Email),
				zap.String("job_id", match.JobID),
				zap.String("reason", admitted.Reason),
			)
			result.Skipped++
		case admitted.Queued:
			result.Queued = append(result.Queued, admitted.Session)
		default:
			result.Created = append(result.Created, admitted.Session)
		}
	}

	c.logger.Info("admission complete",
		zap.String("candidate", candidate.Email),
		zap.Int("created", len(result.Created)),
		zap.Int("queued", len(result.Queued)),
		zap.Int("skipped", result.Skipped),
	)

	return result, nil
}

// forwardOnlyFilter drops all matches for candidates screened before the
// feature's enable timestamp, preventing retroactive vetting of the backlog.
type forwardOnlyFilter struct {
	enabledSince time.Time
}

// NewForwardOnly creates the forward-only cutoff filter.
func NewForwardOnly(enabledSince time.Time) Filter {
	return &forwardOnlyFilter{enabledSince: enabledSince}
}

func (f *forwardOnlyFilter) Name() string { return "forward_only" }

func (f *forwardOnlyFilter) Apply(_ context.Context, intake *Intake) (Step, error) {
	initial := len(intake.Matches)

	if !f.enabledSince.IsZero() && intake.Candidate.ScreenedAt.Before(f.enabledSince) {
		intake.Matches = nil
		return Step{Initial: initial, Dropped: initial, Left: 0}, nil
	}

	return Step{Initial: initial, Dropped: 0, Left: initial}, nil
}

// JobFlags resolves the per-job vetting enablement flag.
type JobFlags interface {
	VettingFlag(ctx context.Context, jobID string) (string, error)
}

// jobEnablementFilter drops matches whose job resolves to vetting-disabled.
// The per-job flag is a tri-state: on, off, or inherit the global switch.
type jobEnablementFilter struct {
	jobs          JobFlags
	globalEnabled bool
	logger        *zap.Logger
}

// NewJobEnablement creates the per-job enablement filter.
func NewJobEnablement(jobs JobFlags, globalEnabled bool, logger *zap.Logger) Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &jobEnablementFilter{jobs: jobs, globalEnabled: globalEnabled, logger: logger}
}

func (f *jobEnablementFilter) Name() string { return "job_enablement" }

func (f *jobEnablementFilter) Apply(ctx context.Context, intake *Intake) (Step, error) {
	initial := len(intake.Matches)
	kept := make([]*models.Match, 0, initial)

	for _, match := range intake.Matches {
		enabled := f.globalEnabled

		flag, err := f.jobs.VettingFlag(ctx, match.JobID)
		if err != nil {
			// an unreachable ATS falls back to the global switch rather than
			// blocking admission
			f.logger.Warn("job flag lookup failed, using global switch",
				zap.String("job_id", match.JobID),
				zap.Error(err),
			)
			flag = "inherit"
		}

		switch flag {
		case "on":
			enabled = true
		case "off":
			enabled = false
		}

		if enabled {
			kept = append(kept, match)
		}
	}

	intake.Matches = kept
	return Step{Initial: initial, Dropped: initial - len(kept), Left: len(kept)}, nil
}
