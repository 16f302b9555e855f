package vetting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/screenvet/screenvet/internal/logger"
	"github.com/screenvet/screenvet/internal/mail"
	"github.com/screenvet/screenvet/internal/models"
	"github.com/screenvet/screenvet/internal/utils"
)

// SessionRepo is the session persistence surface the orchestrator needs.
type SessionRepo interface {
	GetByID(ctx context.Context, id int64) (*models.Session, error)
	Update(ctx context.Context, sess *models.Session) error
	FindByMessageID(ctx context.Context, messageID string) (*models.Session, error)
	FindActiveByEmail(ctx context.Context, email string) (*models.Session, error)
	ListByStatus(ctx context.Context, statuses ...models.SessionStatus) ([]*models.Session, error)
	QueuedCandidates(ctx context.Context) ([]string, error)
	Promote(ctx context.Context, email string, maxActive int) (*models.Session, error)
}

// TurnRepo is the turn persistence surface the orchestrator needs.
type TurnRepo interface {
	Append(ctx context.Context, turn *models.Turn) error
	ListBySession(ctx context.Context, sessionID int64) ([]*models.Turn, error)
}

// NoteCreator writes the outcome note to the external ATS.
type NoteCreator interface {
	CreateNote(ctx context.Context, personID, actionLabel, body string) (string, error)
}

// noteActionLabel tags outcome notes in the ATS.
const noteActionLabel = "vetting-outcome"

// Deps aggregates the orchestrator's collaborators.
type Deps struct {
	Sessions   SessionRepo
	Turns      TurnRepo
	Questions  *QuestionService
	Classifier *Classifier
	Evaluator  *Evaluator
	Sender     mail.Sender
	Notes      NoteCreator
	Logger     *zap.Logger
}

// Orchestrator drives session status transitions: outreach dispatch, the
// inbound-reply state machine, and finalization. All mutations of a session
// go through per-session locking plus the store's version check, so a webhook
// handler and the sweeper racing on the same session cannot corrupt the turn
// sequence.
type Orchestrator struct {
	cfg        *Config
	sessions   SessionRepo
	turns      TurnRepo
	questions  *QuestionService
	classifier *Classifier
	evaluator  *Evaluator
	sender     mail.Sender
	notes      NoteCreator
	logger     *zap.Logger

	locks stripedLocks
	now   func() time.Time
}

// NewOrchestrator wires the orchestrator. The config is normalized in place.
func NewOrchestrator(cfg *Config, deps Deps) *Orchestrator {
	cfg.Normalize()

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Orchestrator{
		cfg:        cfg,
		sessions:   deps.Sessions,
		turns:      deps.Turns,
		questions:  deps.Questions,
		classifier: deps.Classifier,
		evaluator:  deps.Evaluator,
		sender:     deps.Sender,
		notes:      deps.Notes,
		logger:     log,
		now:        time.Now,
	}
}

// DispatchBatch sends outreach for newly admitted sessions, staggering sends
// so a burst of matches does not fire simultaneously. Failures are logged and
// counted; one session's failure never stops the batch.
func (o *Orchestrator) DispatchBatch(ctx context.Context, sessionIDs []int64) int {
	sent := 0
	for i, id := range sessionIDs {
		if i > 0 {
			if err := utils.WaitFor(ctx, o.cfg.OutreachStagger); err != nil {
				o.logger.Warn("outreach batch interrupted", zap.Error(err))
				return sent
			}
		}

		if err := o.DispatchOutreach(ctx, id); err != nil {
			o.logger.Warn("outreach dispatch failed",
				logger.SessionField(id),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}

// DispatchOutreach generates questions (once) and sends the initial email for
// a pending session. On transport failure the session stays pending so the
// next admission or sweeper pass retries.
func (o *Orchestrator) DispatchOutreach(ctx context.Context, sessionID int64) error {
	unlock := o.locks.lock(sessionID)
	defer unlock()

	sess, err := o.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("session %d not found", sessionID)
	}
	if sess.Status != models.StatusPending {
		o.logger.Debug("skipping outreach for non-pending session",
			logger.SessionField(sess.ID),
			zap.String("status", string(sess.Status)),
		)
		return nil
	}

	// Questions are generated exactly once, before the first send attempt.
	if len(sess.Questions) == 0 {
		sess.Questions = o.questions.Generate(ctx, sess)
		if err := o.sessions.Update(ctx, sess); err != nil {
			return fmt.Errorf("persist questions: %w", err)
		}
	}

	subject := OutreachSubject(sess.JobTitle, sess.ID)
	result, err := o.send(ctx, mail.Message{
		To:       sess.CandidateEmail,
		Subject:  subject,
		HTMLBody: OutreachBody(sess),
	})
	if err != nil {
		return fmt.Errorf("send outreach: %w", err)
	}

	now := o.now()
	sess.Status = models.StatusOutreachSent
	sess.CurrentTurn = 1
	sess.LastOutreachAt = &now
	sess.LastMessageID = result.MessageID

	if err := o.sessions.Update(ctx, sess); err != nil {
		return fmt.Errorf("persist outreach: %w", err)
	}

	o.appendTurn(ctx, &models.Turn{
		SessionID:  sess.ID,
		TurnNumber: sess.CurrentTurn,
		Direction:  models.DirectionOutbound,
		Subject:    subject,
		Body:       OutreachBody(sess),
		Questions:  sess.Questions,
		MessageID:  result.MessageID,
	})

	o.logger.Info("outreach sent",
		logger.SessionField(sess.ID),
		zap.String("candidate", sess.CandidateEmail),
		zap.String("job_id", sess.JobID),
		zap.Int("questions", len(sess.Questions)),
	)

	return nil
}

// HandleInbound routes a candidate reply to its session and runs the reply
// state machine. Unroutable messages and replies to terminal sessions are
// dropped silently; the candidate never sees an error.
func (o *Orchestrator) HandleInbound(ctx context.Context, email *models.InboundEmail) error {
	sess, err := LookupSession(ctx, o.sessions, email)
	if err != nil {
		return fmt.Errorf("route inbound email: %w", err)
	}
	if sess == nil {
		o.logger.Debug("dropping unroutable inbound email",
			zap.String("from", email.From),
			zap.String("subject", email.Subject),
		)
		return nil
	}
	if sess.Status.Terminal() {
		o.logger.Debug("dropping reply to finalized session", logger.SessionField(sess.ID))
		return nil
	}

	// Classification is a blocking LLM call; run it before taking the
	// session lock so a slow model never serializes other sessions' traffic.
	classification := o.classifier.Classify(ctx, sess, email.Body())

	unlock := o.locks.lock(sess.ID)
	defer unlock()

	// Reload under the lock; the sweeper may have advanced the session while
	// we were classifying.
	sess, err = o.sessions.GetByID(ctx, sess.ID)
	if err != nil {
		return err
	}
	if sess == nil || sess.Status.Terminal() {
		return nil
	}

	return o.applyReply(ctx, sess, email, classification)
}

func (o *Orchestrator) applyReply(ctx context.Context, sess *models.Session, email *models.InboundEmail, cls *Classification) error {
	switch cls.Intent {
	case models.IntentUnrelated, models.IntentSpam, models.IntentOutOfOffice:
		o.logger.Info("ignoring non-substantive reply",
			logger.SessionField(sess.ID),
			zap.String("intent", string(cls.Intent)),
		)
		return nil
	}

	now := o.now()
	sess.LastReplyAt = &now
	sess.FollowUpCount = 0
	if sess.Status == models.StatusOutreachSent {
		sess.Status = models.StatusInProgress
	}

	if cls.Intent == models.IntentDecline {
		sess.CurrentTurn++
		sess.Status = models.StatusDeclined
		sess.OutcomeSummary = "Candidate declined the opportunity."
		if err := o.sessions.Update(ctx, sess); err != nil {
			return fmt.Errorf("persist decline: %w", err)
		}
		o.appendInbound(ctx, sess, email, cls)

		o.logger.Info("candidate declined", logger.SessionField(sess.ID))
		return o.finalize(ctx, sess)
	}

	// answer / question
	sess.MergeAnswers(cls.Answers)
	sess.CurrentTurn++

	if sess.Complete() {
		sess.Status = models.StatusReadyToFinalize
		if err := o.sessions.Update(ctx, sess); err != nil {
			return fmt.Errorf("persist completed reply: %w", err)
		}
		o.appendInbound(ctx, sess, email, cls)

		o.sendThankYou(ctx, sess, email.MessageID)
		return o.finalize(ctx, sess)
	}

	reply := o.questions.ComposeFollowUp(ctx, sess, email.Body())
	subject := ReplySubject(sess.JobTitle, sess.ID)
	result, err := o.send(ctx, mail.Message{
		To:        sess.CandidateEmail,
		Subject:   subject,
		HTMLBody:  FollowUpBody(reply),
		InReplyTo: email.MessageID,
	})
	if err != nil {
		// Keep the merged answers and the inbound turn; the sweeper will
		// nudge the candidate later.
		if updateErr := o.sessions.Update(ctx, sess); updateErr != nil {
			return fmt.Errorf("persist reply after send failure: %w", updateErr)
		}
		o.appendInbound(ctx, sess, email, cls)
		return fmt.Errorf("send follow-up: %w", err)
	}

	inboundNumber := sess.CurrentTurn
	sess.CurrentTurn++
	sess.LastOutreachAt = &now
	sess.LastMessageID = result.MessageID

	if err := o.sessions.Update(ctx, sess); err != nil {
		return fmt.Errorf("persist follow-up: %w", err)
	}

	o.appendTurn(ctx, &models.Turn{
		SessionID:  sess.ID,
		TurnNumber: inboundNumber,
		Direction:  models.DirectionInbound,
		Subject:    email.Subject,
		Body:       email.Body(),
		Intent:     cls.Intent,
		Reasoning:  cls.Reasoning,
		Answers:    cls.Answers,
		MessageID:  email.MessageID,
	})
	o.appendTurn(ctx, &models.Turn{
		SessionID:  sess.ID,
		TurnNumber: sess.CurrentTurn,
		Direction:  models.DirectionOutbound,
		Subject:    subject,
		Body:       reply,
		Questions:  sess.Unanswered(),
		MessageID:  result.MessageID,
	})

	o.logger.Info("follow-up reply sent",
		logger.SessionField(sess.ID),
		zap.Int("answered", sess.AnsweredCount()),
		zap.Int("remaining", len(sess.Unanswered())),
	)

	return nil
}

// finalize scores the conversation (unless the terminal status was reached by
// decline or unresponsiveness), persists the outcome, and fires the
// best-effort side effects. Idempotent: re-running on an already-terminal
// session only attempts missing side effects and never re-scores or
// double-sends.
func (o *Orchestrator) finalize(ctx context.Context, sess *models.Session) error {
	if !sess.Status.Terminal() {
		turns, err := o.turns.ListBySession(ctx, sess.ID)
		if err != nil {
			return fmt.Errorf("load transcript: %w", err)
		}

		outcome := o.evaluator.Evaluate(ctx, sess, turns)
		sess.Status = outcome.Recommendation
		sess.OutcomeScore = &outcome.Score
		sess.OutcomeSummary = outcome.Summary

		if err := o.sessions.Update(ctx, sess); err != nil {
			return fmt.Errorf("persist outcome: %w", err)
		}

		o.logger.Info("session finalized",
			logger.SessionField(sess.ID),
			zap.String("outcome", string(sess.Status)),
			zap.Float64("score", outcome.Score),
		)
	}

	// Side effects are guarded by idempotency flags and never block or roll
	// back the terminal status.
	if !sess.NoteCreated {
		if _, err := o.notes.CreateNote(ctx, sess.ScreeningID, noteActionLabel, NoteBody(sess)); err != nil {
			o.logger.Warn("note creation failed", logger.SessionField(sess.ID), zap.Error(err))
		} else {
			sess.NoteCreated = true
			if err := o.sessions.Update(ctx, sess); err != nil {
				o.logger.Error("persist note flag failed", logger.SessionField(sess.ID), zap.Error(err))
			}
		}
	}

	if sess.Status == models.StatusQualified && !sess.HandoffSent && sess.RecruiterEmail != "" {
		_, err := o.send(ctx, mail.Message{
			To:       sess.RecruiterEmail,
			Subject:  HandoffSubject(sess),
			HTMLBody: HandoffBody(sess),
		})
		if err != nil {
			o.logger.Warn("recruiter handoff failed", logger.SessionField(sess.ID), zap.Error(err))
		} else {
			sess.HandoffSent = true
			if err := o.sessions.Update(ctx, sess); err != nil {
				o.logger.Error("persist handoff flag failed", logger.SessionField(sess.ID), zap.Error(err))
			}
		}
	}

	return nil
}

func (o *Orchestrator) sendThankYou(ctx context.Context, sess *models.Session, inReplyTo string) {
	result, err := o.send(ctx, mail.Message{
		To:        sess.CandidateEmail,
		Subject:   ReplySubject(sess.JobTitle, sess.ID),
		HTMLBody:  ThankYouBody(sess),
		InReplyTo: inReplyTo,
	})
	if err != nil {
		// non-blocking; the outcome still gets evaluated
		o.logger.Warn("thank-you send failed", logger.SessionField(sess.ID), zap.Error(err))
		return
	}

	sess.LastMessageID = result.MessageID
	if err := o.sessions.Update(ctx, sess); err != nil {
		o.logger.Error("persist thank-you message id failed", logger.SessionField(sess.ID), zap.Error(err))
	}
}

// send wraps the mail capability with the configured identity.
func (o *Orchestrator) send(ctx context.Context, msg mail.Message) (*mail.Result, error) {
	if msg.FromName == "" {
		msg.FromName = o.cfg.FromName
	}
	if msg.ReplyTo == "" {
		msg.ReplyTo = o.cfg.ReplyTo
	}

	result, err := o.sender.Send(ctx, msg)
	if err != nil {
		return nil, err
	}
	if result == nil || !result.Success {
		return nil, fmt.Errorf("send to %s reported failure", msg.To)
	}
	return result, nil
}

func (o *Orchestrator) appendInbound(ctx context.Context, sess *models.Session, email *models.InboundEmail, cls *Classification) {
	o.appendTurn(ctx, &models.Turn{
		SessionID:  sess.ID,
		TurnNumber: sess.CurrentTurn,
		Direction:  models.DirectionInbound,
		Subject:    email.Subject,
		Body:       email.Body(),
		Intent:     cls.Intent,
		Reasoning:  cls.Reasoning,
		Answers:    cls.Answers,
		MessageID:  email.MessageID,
	})
}

func (o *Orchestrator) appendTurn(ctx context.Context, turn *models.Turn) {
	if err := o.turns.Append(ctx, turn); err != nil {
		o.logger.Error("append turn failed",
			logger.SessionField(turn.SessionID),
			zap.Int("turn_number", turn.TurnNumber),
			zap.Error(err),
		)
	}
}

// stripedLocks provides per-session mutual exclusion without unbounded
// allocation: sessions hash onto a fixed set of mutexes.
type stripedLocks struct {
	mu [64]sync.Mutex
}

func (s *stripedLocks) lock(sessionID int64) func() {
	m := &s.mu[sessionID%int64(len(s.mu))]
	m.Lock()
	return m.Unlock
}
