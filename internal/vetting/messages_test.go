package vetting

import (
	"strings"
	"testing"

	"github.com/screenvet/screenvet/internal/models"
)

func TestOutreachBodyListsQuestionsEscaped(t *testing.T) {
	sess := &models.Session{
		CandidateName: "Jamie Doe",
		JobTitle:      "Backend <Go> Engineer",
		Questions:     []string{"Do you know C++ & Go?"},
	}

	body := OutreachBody(sess)
	if !strings.Contains(body, "Hi Jamie,") {
		t.Fatalf("expected first-name greeting, got %q", body)
	}
	if !strings.Contains(body, "Backend &lt;Go&gt; Engineer") {
		t.Fatal("expected escaped job title")
	}
	if !strings.Contains(body, "<li>Do you know C++ &amp; Go?</li>") {
		t.Fatal("expected escaped question list item")
	}
}

func TestNudgeBodyFinalWarnsAboutClosing(t *testing.T) {
	sess := &models.Session{
		CandidateName: "Jamie",
		JobTitle:      "Backend Engineer",
		Questions:     []string{"q0", "q1"},
		Answers:       map[int]string{0: "a0"},
	}

	regular := NudgeBody(sess, false)
	if strings.Contains(regular, "close this conversation") {
		t.Fatal("expected no closing warning on a regular nudge")
	}
	final := NudgeBody(sess, true)
	if !strings.Contains(final, "close this conversation") {
		t.Fatal("expected closing warning on the final nudge")
	}

	// only the open questions are repeated
	if strings.Contains(final, "<li>q0</li>") || !strings.Contains(final, "<li>q1</li>") {
		t.Fatalf("expected only unanswered questions, got %q", final)
	}
}

func TestHandoffBodyShowsScoreAndGaps(t *testing.T) {
	score := 84.0
	sess := &models.Session{
		CandidateName:  "Jamie Doe",
		CandidateEmail: "jamie@example.com",
		JobTitle:       "Backend Engineer",
		Questions:      []string{"q0", "q1"},
		Answers:        map[int]string{0: "a0"},
		OutcomeScore:   &score,
		OutcomeSummary: "Looks solid.",
	}

	body := HandoffBody(sess)
	if !strings.Contains(body, "84/100") {
		t.Fatal("expected score in handoff")
	}
	if !strings.Contains(body, "(no answer)") {
		t.Fatal("expected placeholder for the unanswered question")
	}
	if !strings.Contains(body, "jamie@example.com") {
		t.Fatal("expected candidate contact in handoff")
	}
}

func TestNoteBodySummarizesOutcome(t *testing.T) {
	score := 35.0
	sess := &models.Session{
		CandidateName:  "Jamie Doe",
		JobTitle:       "Backend Engineer",
		Status:         models.StatusNotQualified,
		Questions:      []string{"q0"},
		Answers:        map[int]string{0: "a0"},
		OutcomeScore:   &score,
		OutcomeSummary: "Weak answers.",
	}

	note := NoteBody(sess)
	if !strings.Contains(note, "Outcome: not_qualified (score 35/100)") {
		t.Fatalf("unexpected outcome line: %q", note)
	}
	if !strings.Contains(note, "Q: q0\nA: a0") {
		t.Fatalf("expected q/a pair in note, got %q", note)
	}
}

func TestGreetingNameFallsBack(t *testing.T) {
	if got := greetingName(&models.Session{CandidateName: "   "}); got != "there" {
		t.Fatalf("expected fallback greeting, got %q", got)
	}
	if got := greetingName(&models.Session{CandidateName: "Jamie Doe"}); got != "Jamie" {
		t.Fatalf("expected first name, got %q", got)
	}
}
