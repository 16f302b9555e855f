package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/screenvet/screenvet/internal/models"
)

// ErrVersionConflict is returned when an update carries a stale session
// version. The caller must reload and retry.
var ErrVersionConflict = errors.New("session version conflict")

const sessionColumns = `id, screening_id, candidate_name, candidate_email, job_id, job_title,
	recruiter_email, status, match_context, questions, answers, payload_version,
	current_turn, max_turns, follow_up_count, last_outreach_at, last_reply_at,
	outcome_summary, outcome_score, note_created, handoff_sent, last_message_id,
	version, created_at, updated_at`

// SessionStore handles session persistence on SQLite.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a new session store.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// AdmissionResult describes what happened to a single match during admission.
type AdmissionResult struct {
	Session *models.Session
	Queued  bool
	Skipped bool
	Reason  string
}

// Admit applies the dedup and concurrency-cap rules for a single match and,
// when admitted, inserts the session row. The active-session count is
// recomputed inside the same transaction that inserts the row so concurrent
// admissions for one candidate cannot exceed the cap.
func (s *SessionStore) Admit(ctx context.Context, sess *models.Session, maxActive int, rescreenAfter time.Duration) (*AdmissionResult, error) {
	result := &AdmissionResult{}

	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		open, err := countSessions(ctx, tx, sess.CandidateEmail, sess.JobID, models.OpenStatuses, 0)
		if err != nil {
			return err
		}
		if open > 0 {
			result.Skipped = true
			result.Reason = "active session exists"
			return nil
		}

		if rescreenAfter > 0 {
			cutoff := time.Now().Add(-rescreenAfter).Unix()
			terminal := []models.SessionStatus{
				models.StatusDeclined, models.StatusUnresponsive,
				models.StatusQualified, models.StatusNotQualified,
			}
			recent, err := countSessions(ctx, tx, sess.CandidateEmail, sess.JobID, terminal, cutoff)
			if err != nil {
				return err
			}
			if recent > 0 {
				result.Skipped = true
				result.Reason = "recently finalized"
				return nil
			}
		}

		active, err := countSessions(ctx, tx, sess.CandidateEmail, "", models.ActiveStatuses, 0)
		if err != nil {
			return err
		}

		sess.Status = models.StatusPending
		if active >= maxActive {
			sess.Status = models.StatusQueued
			result.Queued = true
		}

		now := time.Now()
		sess.Version = 1
		sess.CreatedAt = now
		sess.UpdatedAt = now

		questions, err := models.EncodeQuestions(sess.Questions)
		if err != nil {
			return err
		}
		answers, err := models.EncodeAnswers(sess.Answers)
		if err != nil {
			return err
		}
		matchContext, err := models.EncodeMatchContext(sess.MatchContext)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (
				screening_id, candidate_name, candidate_email, job_id, job_title,
				recruiter_email, status, match_context, questions, answers,
				payload_version, current_turn, max_turns, follow_up_count,
				outcome_summary, last_message_id, version, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', 1, ?, ?)
		`,
			sess.ScreeningID, sess.CandidateName, sess.CandidateEmail, sess.JobID, sess.JobTitle,
			sess.RecruiterEmail, string(sess.Status), matchContext, questions, answers,
			models.PayloadVersion, sess.CurrentTurn, sess.MaxTurns, sess.FollowUpCount,
			now.Unix(), now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("session insert id: %w", err)
		}
		sess.ID = id

		result.Session = sess
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetByID fetches a session by primary key, returning nil when absent.
func (s *SessionStore) GetByID(ctx context.Context, id int64) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// Update persists the session with an optimistic version check. On success the
// in-memory version is advanced; on a stale version ErrVersionConflict is
// returned and nothing is written.
func (s *SessionStore) Update(ctx context.Context, sess *models.Session) error {
	questions, err := models.EncodeQuestions(sess.Questions)
	if err != nil {
		return err
	}
	answers, err := models.EncodeAnswers(sess.Answers)
	if err != nil {
		return err
	}

	now := time.Now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = ?, questions = ?, answers = ?, payload_version = ?,
			current_turn = ?, max_turns = ?, follow_up_count = ?,
			last_outreach_at = ?, last_reply_at = ?,
			outcome_summary = ?, outcome_score = ?,
			note_created = ?, handoff_sent = ?, last_message_id = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`,
		string(sess.Status), questions, answers, models.PayloadVersion,
		sess.CurrentTurn, sess.MaxTurns, sess.FollowUpCount,
		unixOrNil(sess.LastOutreachAt), unixOrNil(sess.LastReplyAt),
		sess.OutcomeSummary, sess.OutcomeScore,
		boolToInt(sess.NoteCreated), boolToInt(sess.HandoffSent), sess.LastMessageID,
		now.Unix(),
		sess.ID, sess.Version,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session rows affected: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}

	sess.Version++
	sess.UpdatedAt = now
	return nil
}

// FindByMessageID returns the session whose last outbound message id matches,
// or nil.
func (s *SessionStore) FindByMessageID(ctx context.Context, messageID string) (*models.Session, error) {
	if strings.TrimSpace(messageID) == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE last_message_id = ?
		ORDER BY updated_at DESC LIMIT 1
	`, messageID)
	return scanSession(row)
}

// FindActiveByEmail returns the most recently updated awaiting-reply session
// for the given candidate address, or nil.
func (s *SessionStore) FindActiveByEmail(ctx context.Context, email string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE candidate_email = ? AND status IN (?, ?)
		ORDER BY updated_at DESC LIMIT 1
	`, email, string(models.StatusOutreachSent), string(models.StatusInProgress))
	return scanSession(row)
}

// ListByStatus returns all sessions in any of the given statuses, oldest first.
func (s *SessionStore) ListByStatus(ctx context.Context, statuses ...models.SessionStatus) ([]*models.Session, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args[i] = string(status)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY created_at ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

// QueuedCandidates returns the distinct candidate addresses that currently
// have queued sessions.
func (s *SessionStore) QueuedCandidates(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT candidate_email FROM sessions WHERE status = ? ORDER BY candidate_email
	`, string(models.StatusQueued))
	if err != nil {
		return nil, fmt.Errorf("queued candidates: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan candidate email: %w", err)
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

// Promote flips the candidate's oldest queued session to pending when a
// concurrency slot is free. The slot recount and the flip run in the same
// transaction, mirroring Admit, so a concurrent admission cannot push the
// candidate past the cap. Returns the promoted session, or nil when every
// slot is taken or nothing is queued.
func (s *SessionStore) Promote(ctx context.Context, email string, maxActive int) (*models.Session, error) {
	var promoted *models.Session

	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		active, err := countSessions(ctx, tx, email, "", models.ActiveStatuses, 0)
		if err != nil {
			return err
		}
		if active >= maxActive {
			return nil
		}

		row := tx.QueryRowContext(ctx, `
			SELECT `+sessionColumns+` FROM sessions
			WHERE candidate_email = ? AND status = ?
			ORDER BY created_at ASC LIMIT 1
		`, email, string(models.StatusQueued))
		sess, err := scanSessionRow(row)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load queued session: %w", err)
		}

		now := time.Now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions SET status = ?, version = version + 1, updated_at = ?
			WHERE id = ?
		`, string(models.StatusPending), now.Unix(), sess.ID); err != nil {
			return fmt.Errorf("promote session: %w", err)
		}

		sess.Status = models.StatusPending
		sess.Version++
		sess.UpdatedAt = now
		promoted = sess
		return nil
	})
	if err != nil {
		return nil, err
	}

	return promoted, nil
}

func countSessions(ctx context.Context, tx *sql.Tx, email, jobID string, statuses []models.SessionStatus, createdAfter int64) (int, error) {
	query := `SELECT COUNT(*) FROM sessions WHERE candidate_email = ?`
	args := []any{email}

	if jobID != "" {
		query += ` AND job_id = ?`
		args = append(args, jobID)
	}

	placeholders := make([]string, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args = append(args, string(status))
	}
	query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`

	if createdAfter > 0 {
		query += ` AND created_at >= ?`
		args = append(args, createdAfter)
	}

	var count int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionRow(scanner rowScanner) (*models.Session, error) {
	var (
		sess           models.Session
		status         string
		matchContext   string
		questions      string
		answers        string
		payloadVersion int
		lastOutreach   sql.NullInt64
		lastReply      sql.NullInt64
		outcomeScore   sql.NullFloat64
		noteCreated    int
		handoffSent    int
		createdAt      int64
		updatedAt      int64
	)

	err := scanner.Scan(
		&sess.ID, &sess.ScreeningID, &sess.CandidateName, &sess.CandidateEmail,
		&sess.JobID, &sess.JobTitle, &sess.RecruiterEmail, &status,
		&matchContext, &questions, &answers, &payloadVersion,
		&sess.CurrentTurn, &sess.MaxTurns, &sess.FollowUpCount,
		&lastOutreach, &lastReply,
		&sess.OutcomeSummary, &outcomeScore, &noteCreated, &handoffSent,
		&sess.LastMessageID, &sess.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if payloadVersion != models.PayloadVersion {
		return nil, fmt.Errorf("session %d: unsupported payload version %d", sess.ID, payloadVersion)
	}

	sess.Status = models.SessionStatus(status)

	if sess.MatchContext, err = models.DecodeMatchContext(matchContext); err != nil {
		return nil, fmt.Errorf("session %d: %w", sess.ID, err)
	}
	if sess.Questions, err = models.DecodeQuestions(questions); err != nil {
		return nil, fmt.Errorf("session %d: %w", sess.ID, err)
	}
	if sess.Answers, err = models.DecodeAnswers(answers); err != nil {
		return nil, fmt.Errorf("session %d: %w", sess.ID, err)
	}

	if lastOutreach.Valid {
		t := time.Unix(lastOutreach.Int64, 0)
		sess.LastOutreachAt = &t
	}
	if lastReply.Valid {
		t := time.Unix(lastReply.Int64, 0)
		sess.LastReplyAt = &t
	}
	if outcomeScore.Valid {
		sess.OutcomeScore = &outcomeScore.Float64
	}

	sess.NoteCreated = noteCreated != 0
	sess.HandoffSent = handoffSent != 0
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)

	return &sess, nil
}

func scanSession(row *sql.Row) (*models.Session, error) {
	sess, err := scanSessionRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func scanSessions(rows *sql.Rows) ([]*models.Session, error) {
	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
