package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// PayloadVersion tags the serialized questions/answers format stored on a
// session row. Bump it whenever the JSON shape changes so old rows can be
// detected instead of silently misread.
const PayloadVersion = 1

// SessionStatus is the orchestrator-owned lifecycle state of a session.
type SessionStatus string

const (
	StatusPending         SessionStatus = "pending"
	StatusQueued          SessionStatus = "queued"
	StatusOutreachSent    SessionStatus = "outreach_sent"
	StatusInProgress      SessionStatus = "in_progress"
	StatusReadyToFinalize SessionStatus = "ready_to_finalize"
	StatusDeclined        SessionStatus = "declined"
	StatusUnresponsive    SessionStatus = "unresponsive"
	StatusQualified       SessionStatus = "qualified"
	StatusNotQualified    SessionStatus = "not_qualified"
)

// ActiveStatuses are the statuses that occupy a per-candidate concurrency
// slot. Queued sessions do not hold a slot.
var ActiveStatuses = []SessionStatus{StatusPending, StatusOutreachSent, StatusInProgress, StatusReadyToFinalize}

// OpenStatuses are all non-terminal statuses, used for dedup checks.
var OpenStatuses = []SessionStatus{StatusPending, StatusQueued, StatusOutreachSent, StatusInProgress, StatusReadyToFinalize}

// Terminal reports whether the status ends the conversation.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusDeclined, StatusUnresponsive, StatusQualified, StatusNotQualified:
		return true
	}
	return false
}

// MatchContext is the upstream match assessment a session was admitted with.
// It is the raw material for question generation.
type MatchContext struct {
	Summary    string   `json:"summary"`
	Skills     string   `json:"skills"`
	Experience string   `json:"experience"`
	Gaps       []string `json:"gaps"`
	Score      float64  `json:"score"`
}

// Session is one bounded email conversation for a (candidate, job) pair.
type Session struct {
	ID             int64
	ScreeningID    string
	CandidateName  string
	CandidateEmail string
	JobID          string
	JobTitle       string
	RecruiterEmail string

	Status       SessionStatus
	MatchContext MatchContext

	// Questions are generated once and never reordered; Answers is keyed by
	// the question's index in Questions, not by its text.
	Questions []string
	Answers   map[int]string

	CurrentTurn   int
	MaxTurns      int
	FollowUpCount int

	LastOutreachAt *time.Time
	LastReplyAt    *time.Time

	OutcomeSummary string
	OutcomeScore   *float64
	NoteCreated    bool
	HandoffSent    bool

	LastMessageID string

	// Version is the optimistic-locking counter; every persisted update must
	// carry the version it read.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AnsweredCount returns the number of distinct questions with a recorded answer.
func (s *Session) AnsweredCount() int {
	n := 0
	for idx := range s.Answers {
		if idx >= 0 && idx < len(s.Questions) {
			n++
		}
	}
	return n
}

// Unanswered returns the questions that still have no answer, in order.
func (s *Session) Unanswered() []string {
	remaining := make([]string, 0, len(s.Questions))
	for i, q := range s.Questions {
		if _, ok := s.Answers[i]; !ok {
			remaining = append(remaining, q)
		}
	}
	return remaining
}

// Complete reports whether the conversation has collected everything it can:
// every question answered or the turn budget spent.
func (s *Session) Complete() bool {
	if len(s.Questions) > 0 && s.AnsweredCount() >= len(s.Questions) {
		return true
	}
	return s.CurrentTurn >= s.MaxTurns
}

// MergeAnswers folds newly extracted answers into the session map. Last value
// wins. Out-of-range indexes are dropped.
func (s *Session) MergeAnswers(extracted map[int]string) {
	if len(extracted) == 0 {
		return
	}
	if s.Answers == nil {
		s.Answers = make(map[int]string, len(extracted))
	}
	for idx, answer := range extracted {
		if idx < 0 || idx >= len(s.Questions) || answer == "" {
			continue
		}
		s.Answers[idx] = answer
	}
}

// QAPairs returns question/answer pairs in question order, with empty answers
// for unanswered questions. Used for notes and the recruiter handoff.
func (s *Session) QAPairs() []QAPair {
	pairs := make([]QAPair, 0, len(s.Questions))
	for i, q := range s.Questions {
		pairs = append(pairs, QAPair{Question: q, Answer: s.Answers[i]})
	}
	return pairs
}

// QAPair is a single question with its (possibly empty) answer.
type QAPair struct {
	Question string
	Answer   string
}

// EncodeQuestions serializes the question list for storage.
func EncodeQuestions(questions []string) (string, error) {
	if questions == nil {
		questions = []string{}
	}
	data, err := json.Marshal(questions)
	if err != nil {
		return "", fmt.Errorf("encode questions: %w", err)
	}
	return string(data), nil
}

// DecodeQuestions deserializes a stored question list.
func DecodeQuestions(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var questions []string
	if err := json.Unmarshal([]byte(raw), &questions); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	return questions, nil
}

// EncodeAnswers serializes the index-keyed answer map for storage. JSON object
// keys are strings, so indexes are written as decimal strings.
func EncodeAnswers(answers map[int]string) (string, error) {
	out := make(map[string]string, len(answers))
	for idx, answer := range answers {
		out[strconv.Itoa(idx)] = answer
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode answers: %w", err)
	}
	return string(data), nil
}

// DecodeAnswers deserializes a stored answer map, skipping malformed keys.
func DecodeAnswers(raw string) (map[int]string, error) {
	if raw == "" {
		return nil, nil
	}
	var in map[string]string
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	out := make(map[int]string, len(in))
	for key, answer := range in {
		idx, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		out[idx] = answer
	}
	return out, nil
}

// EncodeMatchContext serializes the match context for storage.
func EncodeMatchContext(mc MatchContext) (string, error) {
	data, err := json.Marshal(mc)
	if err != nil {
		return "", fmt.Errorf("encode match context: %w", err)
	}
	return string(data), nil
}

// DecodeMatchContext deserializes a stored match context.
func DecodeMatchContext(raw string) (MatchContext, error) {
	var mc MatchContext
	if raw == "" {
		return mc, nil
	}
	if err := json.Unmarshal([]byte(raw), &mc); err != nil {
		return mc, fmt.Errorf("decode match context: %w", err)
	}
	return mc, nil
}
