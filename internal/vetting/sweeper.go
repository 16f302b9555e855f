package vetting

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/screenvet/screenvet/internal/logger"
	"github.com/screenvet/screenvet/internal/mail"
	"github.com/screenvet/screenvet/internal/models"
)

// Report aggregates one sweep pass for observability.
type Report struct {
	FollowupsSent      int
	ClosedUnresponsive int
	Promoted           int
	Retried            int
	Finalized          int
	Errors             int
}

// Sweeper is the periodic job that nudges unresponsive sessions, closes stale
// ones, retries stuck dispatches, and promotes queued sessions into freed
// slots. A failure on one session never aborts the rest of the pass.
type Sweeper struct {
	orch   *Orchestrator
	logger *zap.Logger
}

// NewSweeper creates a sweeper bound to the orchestrator.
func NewSweeper(orch *Orchestrator, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{orch: orch, logger: log}
}

// RunLoop runs sweeps at the configured interval until the context is
// cancelled. One pass runs immediately on start.
func (s *Sweeper) RunLoop(ctx context.Context) {
	interval := s.orch.cfg.SweepInterval

	s.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped", zap.Error(ctx.Err()))
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	report, err := s.Run(ctx)
	if err != nil {
		s.logger.Error("sweep pass failed", zap.Error(err))
		return
	}

	s.logger.Info("sweep pass complete",
		zap.Int("followups_sent", report.FollowupsSent),
		zap.Int("closed_unresponsive", report.ClosedUnresponsive),
		zap.Int("promoted", report.Promoted),
		zap.Int("retried", report.Retried),
		zap.Int("finalized", report.Finalized),
		zap.Int("errors", report.Errors),
	)
}

// Run executes a single sweep pass.
func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	awaiting, err := s.orch.sessions.ListByStatus(ctx, models.StatusOutreachSent, models.StatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("list awaiting sessions: %w", err)
	}

	for _, sess := range awaiting {
		if err := s.sweepSession(ctx, sess.ID, report); err != nil {
			report.Errors++
			s.logger.Warn("sweep session failed", logger.SessionField(sess.ID), zap.Error(err))
		}
	}

	// Sessions stuck pending after a failed send get another dispatch.
	pending, err := s.orch.sessions.ListByStatus(ctx, models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending sessions: %w", err)
	}
	for _, sess := range pending {
		if err := s.orch.DispatchOutreach(ctx, sess.ID); err != nil {
			report.Errors++
			s.logger.Warn("pending retry failed", logger.SessionField(sess.ID), zap.Error(err))
			continue
		}
		report.Retried++
	}

	// Sessions that completed but crashed before an outcome was persisted.
	stuck, err := s.orch.sessions.ListByStatus(ctx, models.StatusReadyToFinalize)
	if err != nil {
		return nil, fmt.Errorf("list stuck sessions: %w", err)
	}
	for _, sess := range stuck {
		if err := s.redriveFinalize(ctx, sess.ID); err != nil {
			report.Errors++
			s.logger.Warn("finalize redrive failed", logger.SessionField(sess.ID), zap.Error(err))
			continue
		}
		report.Finalized++
	}

	if err := s.promoteQueued(ctx, report); err != nil {
		return nil, err
	}

	return report, nil
}

// sweepSession applies the nudge/close rules to one awaiting session. The
// session is reloaded under its lock because a reply may have landed since
// the list query.
func (s *Sweeper) sweepSession(ctx context.Context, sessionID int64, report *Report) error {
	o := s.orch

	unlock := o.locks.lock(sessionID)
	defer unlock()

	sess, err := o.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil || sess.LastOutreachAt == nil {
		return nil
	}
	if sess.Status != models.StatusOutreachSent && sess.Status != models.StatusInProgress {
		return nil
	}

	elapsed := o.now().Sub(*sess.LastOutreachAt)

	if sess.FollowUpCount >= o.cfg.maxFollowups() {
		if elapsed < unresponsiveAfter {
			return nil
		}

		sess.Status = models.StatusUnresponsive
		sess.OutcomeSummary = "Candidate stopped responding after all follow-ups."
		if err := o.sessions.Update(ctx, sess); err != nil {
			return fmt.Errorf("persist unresponsive: %w", err)
		}

		o.logger.Info("session closed as unresponsive", logger.SessionField(sess.ID))
		report.ClosedUnresponsive++
		return o.finalize(ctx, sess)
	}

	threshold := time.Duration(o.cfg.FollowupHours[sess.FollowUpCount]) * time.Hour
	if elapsed < threshold {
		return nil
	}

	final := sess.FollowUpCount == o.cfg.maxFollowups()-1
	subject := ReplySubject(sess.JobTitle, sess.ID)
	body := NudgeBody(sess, final)

	result, err := o.send(ctx, mail.Message{
		To:        sess.CandidateEmail,
		Subject:   subject,
		HTMLBody:  body,
		InReplyTo: sess.LastMessageID,
	})
	if err != nil {
		return fmt.Errorf("send follow-up %d: %w", sess.FollowUpCount+1, err)
	}

	now := o.now()
	sess.FollowUpCount++
	sess.CurrentTurn++
	sess.LastOutreachAt = &now
	sess.LastMessageID = result.MessageID

	if err := o.sessions.Update(ctx, sess); err != nil {
		return fmt.Errorf("persist follow-up: %w", err)
	}

	o.appendTurn(ctx, &models.Turn{
		SessionID:  sess.ID,
		TurnNumber: sess.CurrentTurn,
		Direction:  models.DirectionOutbound,
		Subject:    subject,
		Body:       body,
		Questions:  sess.Unanswered(),
		MessageID:  result.MessageID,
	})

	o.logger.Info("follow-up sent",
		logger.SessionField(sess.ID),
		zap.Int("follow_up_count", sess.FollowUpCount),
		zap.Bool("final", final),
	)

	report.FollowupsSent++
	return nil
}

func (s *Sweeper) redriveFinalize(ctx context.Context, sessionID int64) error {
	o := s.orch

	unlock := o.locks.lock(sessionID)
	defer unlock()

	sess, err := o.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil || sess.Status != models.StatusReadyToFinalize {
		return nil
	}

	return o.finalize(ctx, sess)
}

// promoteQueued moves queued sessions into freed active slots, oldest first,
// and dispatches their outreach.
func (s *Sweeper) promoteQueued(ctx context.Context, report *Report) error {
	o := s.orch

	candidates, err := o.sessions.QueuedCandidates(ctx)
	if err != nil {
		return fmt.Errorf("list queued candidates: %w", err)
	}

	for _, email := range candidates {
		// Promote recounts slots inside the store transaction; the loop ends
		// when the cap is reached or the queue drains.
		for {
			sess, err := o.sessions.Promote(ctx, email, o.cfg.MaxConcurrentSessions)
			if err != nil {
				report.Errors++
				s.logger.Warn("promote queued session failed", zap.String("candidate", email), zap.Error(err))
				break
			}
			if sess == nil {
				break
			}

			o.logger.Info("queued session promoted", logger.SessionField(sess.ID))
			report.Promoted++

			if err := o.DispatchOutreach(ctx, sess.ID); err != nil {
				report.Errors++
				s.logger.Warn("promoted outreach failed", logger.SessionField(sess.ID), zap.Error(err))
			}
		}
	}

	return nil
}
