package vetting

import (
	"fmt"
	"html"
	"strings"

	"github.com/screenvet/screenvet/internal/models"
)

// greetingName returns a usable salutation for the candidate.
func greetingName(sess *models.Session) string {
	name := strings.TrimSpace(sess.CandidateName)
	if name == "" {
		return "there"
	}
	// first name only reads less like a mail merge
	if idx := strings.IndexByte(name, ' '); idx > 0 {
		name = name[:idx]
	}
	return name
}

// OutreachBody builds the initial outreach email listing the verification
// questions.
func OutreachBody(sess *models.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>Hi %s,</p>", html.EscapeString(greetingName(sess)))
	fmt.Fprintf(&b,
		"<p>Your background looks like a strong match for the <strong>%s</strong> role. Before connecting you with the recruiter, we have a few quick questions:</p>",
		html.EscapeString(sess.JobTitle),
	)
	writeQuestionList(&b, sess.Questions)
	b.WriteString("<p>Just reply to this email — short answers are perfectly fine.</p>")
	b.WriteString(signature())
	return b.String()
}

// FollowUpBody wraps a composed reply text into HTML for a mid-conversation
// follow-up.
func FollowUpBody(reply string) string {
	var b strings.Builder
	for _, paragraph := range strings.Split(strings.TrimSpace(reply), "\n\n") {
		lines := strings.Split(paragraph, "\n")
		for i, line := range lines {
			lines[i] = html.EscapeString(line)
		}
		fmt.Fprintf(&b, "<p>%s</p>", strings.Join(lines, "<br>"))
	}
	b.WriteString(signature())
	return b.String()
}

// NudgeBody builds the scheduler's reminder email. The final nudge makes clear
// the thread is about to close.
func NudgeBody(sess *models.Session, final bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>Hi %s,</p>", html.EscapeString(greetingName(sess)))

	if final {
		fmt.Fprintf(&b,
			"<p>Just one last check-in about the <strong>%s</strong> role — we'll close this conversation soon if we don't hear back, but we'd still love your answers:</p>",
			html.EscapeString(sess.JobTitle),
		)
	} else {
		fmt.Fprintf(&b,
			"<p>A gentle reminder about the <strong>%s</strong> role — whenever you have a minute, we'd love your answers to these:</p>",
			html.EscapeString(sess.JobTitle),
		)
	}

	writeQuestionList(&b, sess.Unanswered())
	b.WriteString(signature())
	return b.String()
}

// ThankYouBody closes the conversation with the candidate.
func ThankYouBody(sess *models.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>Hi %s,</p>", html.EscapeString(greetingName(sess)))
	fmt.Fprintf(&b,
		"<p>Thank you — that's everything we need for the <strong>%s</strong> role. The recruiting team will review your answers and someone will be in touch about next steps.</p>",
		html.EscapeString(sess.JobTitle),
	)
	b.WriteString(signature())
	return b.String()
}

// HandoffSubject builds the recruiter handoff subject.
func HandoffSubject(sess *models.Session) string {
	return fmt.Sprintf("Vetted candidate: %s for %s %s", sess.CandidateName, sess.JobTitle, SubjectToken(sess.ID))
}

// HandoffBody builds the recruiter-facing summary with the full Q&A table and
// score. Sent only for qualified outcomes.
func HandoffBody(sess *models.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p><strong>%s</strong> finished automated vetting for <strong>%s</strong>.</p>",
		html.EscapeString(sess.CandidateName), html.EscapeString(sess.JobTitle))

	if sess.OutcomeScore != nil {
		fmt.Fprintf(&b, "<p>Score: <strong>%.0f/100</strong></p>", *sess.OutcomeScore)
	}
	if sess.OutcomeSummary != "" {
		fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(sess.OutcomeSummary))
	}

	b.WriteString(`<table border="1" cellpadding="6" cellspacing="0"><tr><th>Question</th><th>Answer</th></tr>`)
	for _, pair := range sess.QAPairs() {
		answer := pair.Answer
		if answer == "" {
			answer = "(no answer)"
		}
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td></tr>",
			html.EscapeString(pair.Question), html.EscapeString(answer))
	}
	b.WriteString("</table>")

	fmt.Fprintf(&b, "<p>Candidate contact: %s</p>", html.EscapeString(sess.CandidateEmail))
	return b.String()
}

// NoteBody builds the plain-text ATS note summarizing the conversation
// outcome.
func NoteBody(sess *models.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated vetting for %s — %s\n", sess.CandidateName, sess.JobTitle)
	fmt.Fprintf(&b, "Outcome: %s", sess.Status)
	if sess.OutcomeScore != nil {
		fmt.Fprintf(&b, " (score %.0f/100)", *sess.OutcomeScore)
	}
	b.WriteString("\n")
	if sess.OutcomeSummary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", sess.OutcomeSummary)
	}
	b.WriteString("\n")
	for _, pair := range sess.QAPairs() {
		answer := pair.Answer
		if answer == "" {
			answer = "(no answer)"
		}
		fmt.Fprintf(&b, "Q: %s\nA: %s\n", pair.Question, answer)
	}
	return b.String()
}

func writeQuestionList(b *strings.Builder, questions []string) {
	b.WriteString("<ol>")
	for _, q := range questions {
		fmt.Fprintf(b, "<li>%s</li>", html.EscapeString(q))
	}
	b.WriteString("</ol>")
}

func signature() string {
	return "<p>Best regards,<br>The recruiting team</p>"
}
