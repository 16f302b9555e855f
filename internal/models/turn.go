package models

import "time"

// Direction marks whether a turn was sent by us or by the candidate.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Intent is the classifier's judgment of what an inbound reply is doing.
type Intent string

const (
	IntentAnswer      Intent = "answer"
	IntentQuestion    Intent = "question"
	IntentDecline     Intent = "decline"
	IntentUnrelated   Intent = "unrelated"
	IntentSpam        Intent = "spam"
	IntentOutOfOffice Intent = "out_of_office"
)

// KnownIntent reports whether the classifier label is one we act on.
func KnownIntent(i Intent) bool {
	switch i {
	case IntentAnswer, IntentQuestion, IntentDecline, IntentUnrelated, IntentSpam, IntentOutOfOffice:
		return true
	}
	return false
}

// Turn is one recorded message in a session's thread. Turns are append-only:
// numbers form a contiguous sequence starting at 1 and rows are never mutated.
type Turn struct {
	ID         int64
	SessionID  int64
	TurnNumber int
	Direction  Direction
	Subject    string
	Body       string

	// Inbound-only classifier output.
	Intent    Intent
	Reasoning string
	Answers   map[int]string

	// Outbound-only: the questions posed in this message.
	Questions []string

	MessageID string
	CreatedAt time.Time
}
