package vetting

import (
	"context"
	"testing"

	"github.com/screenvet/screenvet/internal/models"
)

type fakeLookup struct {
	byID        map[int64]*models.Session
	byMessageID map[string]*models.Session
	byEmail     map[string]*models.Session

	emailQueries []string
}

func (f *fakeLookup) GetByID(_ context.Context, id int64) (*models.Session, error) {
	return f.byID[id], nil
}

func (f *fakeLookup) FindByMessageID(_ context.Context, messageID string) (*models.Session, error) {
	return f.byMessageID[messageID], nil
}

func (f *fakeLookup) FindActiveByEmail(_ context.Context, email string) (*models.Session, error) {
	f.emailQueries = append(f.emailQueries, email)
	return f.byEmail[email], nil
}

func TestParseSubjectToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		subject string
		id      int64
		ok      bool
	}{
		{
			name:    "token in a reply subject",
			subject: "Re: About the Backend Engineer opportunity [SV-42]",
			id:      42,
			ok:      true,
		},
		{
			name:    "token in a forwarded subject",
			subject: "Fwd: Fwd: questions [SV-7] (see below)",
			id:      7,
			ok:      true,
		},
		{
			name:    "no token",
			subject: "Re: About the opportunity",
			ok:      false,
		},
		{
			name:    "malformed token",
			subject: "questions [SV-abc]",
			ok:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			id, ok := ParseSubjectToken(tt.subject)
			if ok != tt.ok || id != tt.id {
				t.Fatalf("expected (%d, %v), got (%d, %v)", tt.id, tt.ok, id, ok)
			}
		})
	}
}

func TestSubjectRoundTrip(t *testing.T) {
	subject := OutreachSubject("Backend Engineer", 42)
	id, ok := ParseSubjectToken("Re: " + subject)
	if !ok || id != 42 {
		t.Fatalf("expected (42, true), got (%d, %v)", id, ok)
	}
}

func TestLookupSessionPrefersInReplyTo(t *testing.T) {
	byRef := &models.Session{ID: 1}
	byToken := &models.Session{ID: 2}

	lookup := &fakeLookup{
		byMessageID: map[string]*models.Session{"<out@screenvet>": byRef},
		byID:        map[int64]*models.Session{2: byToken},
	}

	sess, err := LookupSession(context.Background(), lookup, &models.InboundEmail{
		From:      "jamie@example.com",
		Subject:   "Re: questions [SV-2]",
		InReplyTo: "<out@screenvet>",
	})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if sess == nil || sess.ID != 1 {
		t.Fatalf("expected session 1 via In-Reply-To, got %+v", sess)
	}
}

func TestLookupSessionFallsBackToToken(t *testing.T) {
	byToken := &models.Session{ID: 2}
	lookup := &fakeLookup{
		byMessageID: map[string]*models.Session{},
		byID:        map[int64]*models.Session{2: byToken},
	}

	sess, err := LookupSession(context.Background(), lookup, &models.InboundEmail{
		From:      "jamie@example.com",
		Subject:   "Re: questions [SV-2]",
		InReplyTo: "<unknown@elsewhere>",
	})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if sess == nil || sess.ID != 2 {
		t.Fatalf("expected session 2 via token, got %+v", sess)
	}
}

func TestLookupSessionFallsBackToSenderAddress(t *testing.T) {
	byEmail := &models.Session{ID: 3}
	lookup := &fakeLookup{
		byMessageID: map[string]*models.Session{},
		byID:        map[int64]*models.Session{},
		byEmail:     map[string]*models.Session{"jamie@example.com": byEmail},
	}

	sess, err := LookupSession(context.Background(), lookup, &models.InboundEmail{
		From:    "Jamie Doe <Jamie@Example.com>",
		Subject: "Re: questions",
	})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if sess == nil || sess.ID != 3 {
		t.Fatalf("expected session 3 via sender, got %+v", sess)
	}
	if len(lookup.emailQueries) != 1 || lookup.emailQueries[0] != "jamie@example.com" {
		t.Fatalf("expected normalized address query, got %v", lookup.emailQueries)
	}
}

func TestLookupSessionReturnsNilWhenUnroutable(t *testing.T) {
	lookup := &fakeLookup{
		byMessageID: map[string]*models.Session{},
		byID:        map[int64]*models.Session{},
		byEmail:     map[string]*models.Session{},
	}

	sess, err := LookupSession(context.Background(), lookup, &models.InboundEmail{
		From:    "stranger@example.com",
		Subject: "hello",
	})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if sess != nil {
		t.Fatalf("expected nil session, got %+v", sess)
	}
}

func TestNormalizeAddress(t *testing.T) {
	tests := map[string]string{
		"Jamie Doe <Jamie@Example.com>": "jamie@example.com",
		"  plain@example.com  ":         "plain@example.com",
		"<wrapped@example.com>":         "wrapped@example.com",
		"":                              "",
	}

	for input, expect := range tests {
		if got := normalizeAddress(input); got != expect {
			t.Fatalf("normalizeAddress(%q): expected %q, got %q", input, expect, got)
		}
	}
}
