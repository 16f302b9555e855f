package models

import "time"

// Candidate is the screened person handed to the admission controller by the
// upstream match-scoring service.
type Candidate struct {
	ScreeningID string    `json:"screening_id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	ScreenedAt  time.Time `json:"screened_at"`
}

// Match is one qualified (candidate, job) pairing from the upstream scorer.
type Match struct {
	JobID          string       `json:"job_id"`
	JobTitle       string       `json:"job_title"`
	RecruiterEmail string       `json:"recruiter_email"`
	Context        MatchContext `json:"context"`
}

// InboundEmail is the webhook payload for a candidate reply.
type InboundEmail struct {
	From      string `json:"from"`
	Subject   string `json:"subject"`
	Text      string `json:"text"`
	HTML      string `json:"html"`
	MessageID string `json:"message_id"`
	InReplyTo string `json:"in_reply_to"`
}

// Body returns the best available text body of the email.
func (e *InboundEmail) Body() string {
	if e.Text != "" {
		return e.Text
	}
	return e.HTML
}
