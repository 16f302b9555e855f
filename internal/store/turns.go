package store

import (
	"context"
	"fmt"
	"time"

	"github.com/screenvet/screenvet/internal/models"
)

// TurnStore handles append-only turn persistence on SQLite.
type TurnStore struct {
	db *DB
}

// NewTurnStore creates a new turn store.
func NewTurnStore(db *DB) *TurnStore {
	return &TurnStore{db: db}
}

// Append records a turn. The UNIQUE(session_id, turn_number) constraint
// rejects duplicates, so a racing writer surfaces as an error instead of a
// silently reordered thread.
func (s *TurnStore) Append(ctx context.Context, turn *models.Turn) error {
	if turn.TurnNumber < 1 {
		return fmt.Errorf("turn number must start at 1, got %d", turn.TurnNumber)
	}

	answers, err := models.EncodeAnswers(turn.Answers)
	if err != nil {
		return err
	}
	questions, err := models.EncodeQuestions(turn.Questions)
	if err != nil {
		return err
	}

	now := time.Now()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (
			session_id, turn_number, direction, subject, body,
			intent, reasoning, answers, questions, message_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		turn.SessionID, turn.TurnNumber, string(turn.Direction), turn.Subject, turn.Body,
		string(turn.Intent), turn.Reasoning, answers, questions, turn.MessageID, now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("turn insert id: %w", err)
	}

	turn.ID = id
	turn.CreatedAt = now
	return nil
}

// ListBySession returns all turns for a session in turn order.
func (s *TurnStore) ListBySession(ctx context.Context, sessionID int64) ([]*models.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, turn_number, direction, subject, body,
			intent, reasoning, answers, questions, message_id, created_at
		FROM turns
		WHERE session_id = ?
		ORDER BY turn_number ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var turns []*models.Turn
	for rows.Next() {
		var (
			turn      models.Turn
			direction string
			intent    string
			answers   string
			questions string
			createdAt int64
		)

		err := rows.Scan(
			&turn.ID, &turn.SessionID, &turn.TurnNumber, &direction, &turn.Subject, &turn.Body,
			&intent, &turn.Reasoning, &answers, &questions, &turn.MessageID, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}

		turn.Direction = models.Direction(direction)
		turn.Intent = models.Intent(intent)
		if turn.Answers, err = models.DecodeAnswers(answers); err != nil {
			return nil, fmt.Errorf("turn %d: %w", turn.ID, err)
		}
		if turn.Questions, err = models.DecodeQuestions(questions); err != nil {
			return nil, fmt.Errorf("turn %d: %w", turn.ID, err)
		}
		turn.CreatedAt = time.Unix(createdAt, 0)

		turns = append(turns, &turn)
	}

	return turns, rows.Err()
}
