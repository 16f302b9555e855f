package vetting

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/screenvet/screenvet/internal/models"
)

// subjectTokenRe matches the correlation token appended to every outbound
// subject, e.g. "Re: About the X opportunity [SV-42]".
var subjectTokenRe = regexp.MustCompile(`\[SV-(\d+)\]`)

// SubjectToken returns the correlation token for a session.
func SubjectToken(sessionID int64) string {
	return fmt.Sprintf("[SV-%d]", sessionID)
}

// OutreachSubject builds the initial outbound subject, token included.
func OutreachSubject(jobTitle string, sessionID int64) string {
	return fmt.Sprintf("A few questions about the %s opportunity %s", jobTitle, SubjectToken(sessionID))
}

// ReplySubject builds the subject for every non-initial send.
func ReplySubject(jobTitle string, sessionID int64) string {
	return "Re: " + OutreachSubject(jobTitle, sessionID)
}

// ParseSubjectToken extracts the session id from a subject line, returning
// false when no token is present.
func ParseSubjectToken(subject string) (int64, bool) {
	match := subjectTokenRe.FindStringSubmatch(subject)
	if match == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// sessionLookup is the slice of the session store thread routing needs.
type sessionLookup interface {
	GetByID(ctx context.Context, id int64) (*models.Session, error)
	FindByMessageID(ctx context.Context, messageID string) (*models.Session, error)
	FindActiveByEmail(ctx context.Context, email string) (*models.Session, error)
}

// LookupSession routes an inbound email to its session. Strategies in order:
// In-Reply-To header against the stored message id, subject token, then the
// newest awaiting-reply session for the sender address. Returns nil (no
// error) when nothing matches; the caller drops the message silently.
func LookupSession(ctx context.Context, sessions sessionLookup, email *models.InboundEmail) (*models.Session, error) {
	if ref := strings.TrimSpace(email.InReplyTo); ref != "" {
		sess, err := sessions.FindByMessageID(ctx, ref)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			return sess, nil
		}
	}

	if id, ok := ParseSubjectToken(email.Subject); ok {
		sess, err := sessions.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			return sess, nil
		}
	}

	sender := normalizeAddress(email.From)
	if sender == "" {
		return nil, nil
	}

	return sessions.FindActiveByEmail(ctx, sender)
}

// normalizeAddress lowers and strips a "Name <addr>" form down to the bare
// address.
func normalizeAddress(from string) string {
	from = strings.TrimSpace(from)
	if start := strings.LastIndex(from, "<"); start != -1 {
		if end := strings.LastIndex(from, ">"); end > start {
			from = from[start+1 : end]
		}
	}
	return strings.ToLower(strings.TrimSpace(from))
}
