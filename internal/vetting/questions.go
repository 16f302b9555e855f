package vetting

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"

	"github.com/screenvet/screenvet/internal/ai"
	"github.com/screenvet/screenvet/internal/logger"
	"github.com/screenvet/screenvet/internal/models"
)

//go:embed prompts/questions.md
var questionsPrompt string

//go:embed prompts/followup.md
var followupPrompt string

const (
	maxQuestions        = 5
	defaultMaxLogLength = 200

	systemInstruction = "You are a precise recruiting assistant. Follow the output format exactly."
)

// fallbackQuestions are used whenever generation fails; generic but always
// usable.
var fallbackQuestions = []string{
	"Could you confirm your hands-on experience with the key skills listed in the job description?",
	"What is your availability to start a new role?",
	"What are your compensation expectations and preferred work arrangement (remote, hybrid, on-site)?",
}

// QuestionService turns match context into verification questions and composes
// mid-conversation follow-up replies.
type QuestionService struct {
	completer ai.Completer
	logger    *zap.Logger
	maxLogLen int
}

// NewQuestionService creates the service. maxLogLength bounds prompt/response
// previews in debug logs.
func NewQuestionService(completer ai.Completer, log *zap.Logger, maxLogLength int) *QuestionService {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &QuestionService{
		completer: completer,
		logger:    log,
		maxLogLen: maxLogLength,
	}
}

// Generate produces 3-5 verification questions for a session. Any model or
// parse failure falls back to the deterministic generic set; this method never
// returns an empty list.
func (s *QuestionService) Generate(ctx context.Context, sess *models.Session) []string {
	prompt := buildQuestionsPrompt(sess)

	s.logger.Debug("question generation request",
		logger.SessionField(sess.ID),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", logger.TruncateForLog(prompt, s.maxLogLen)),
	)

	raw, err := s.completer.Complete(ctx, systemInstruction, prompt)
	if err != nil {
		s.logger.Warn("question generation failed, using fallback",
			logger.SessionField(sess.ID),
			zap.Error(err),
		)
		return append([]string(nil), fallbackQuestions...)
	}

	questions, err := parseQuestions(raw)
	if err != nil || len(questions) == 0 {
		s.logger.Warn("question response unusable, using fallback",
			logger.SessionField(sess.ID),
			zap.Error(err),
			zap.String("response_preview", logger.TruncateForLog(raw, s.maxLogLen)),
		)
		return append([]string(nil), fallbackQuestions...)
	}

	if len(questions) > maxQuestions {
		questions = questions[:maxQuestions]
	}

	return questions
}

// ComposeFollowUp writes the reply sent when a candidate answered only part of
// the question set. On failure it falls back to a plain template listing the
// remaining questions; this method never returns an empty string.
func (s *QuestionService) ComposeFollowUp(ctx context.Context, sess *models.Session, latestMessage string) string {
	unanswered := sess.Unanswered()
	prompt := buildFollowupPrompt(unanswered, latestMessage)

	raw, err := s.completer.Complete(ctx, systemInstruction, prompt)
	if err != nil {
		s.logger.Warn("follow-up composition failed, using template",
			logger.SessionField(sess.ID),
			zap.Error(err),
		)
		return templateFollowUp(sess.CandidateName, unanswered)
	}

	reply := strings.TrimSpace(ai.ExtractJSON(raw))
	if reply == "" {
		s.logger.Warn("follow-up composition empty, using template", logger.SessionField(sess.ID))
		return templateFollowUp(sess.CandidateName, unanswered)
	}

	return reply
}

func buildQuestionsPrompt(sess *models.Session) string {
	gaps := "- none identified"
	if len(sess.MatchContext.Gaps) > 0 {
		lines := make([]string, 0, len(sess.MatchContext.Gaps))
		for _, gap := range sess.MatchContext.Gaps {
			lines = append(lines, "- "+gap)
		}
		gaps = strings.Join(lines, "\n")
	}

	prompt := strings.ReplaceAll(questionsPrompt, "{{JOB_TITLE}}", orNone(sess.JobTitle))
	prompt = strings.ReplaceAll(prompt, "{{SUMMARY}}", orNone(sess.MatchContext.Summary))
	prompt = strings.ReplaceAll(prompt, "{{SKILLS}}", orNone(sess.MatchContext.Skills))
	prompt = strings.ReplaceAll(prompt, "{{EXPERIENCE}}", orNone(sess.MatchContext.Experience))
	prompt = strings.ReplaceAll(prompt, "{{GAPS}}", gaps)
	return prompt
}

func buildFollowupPrompt(unanswered []string, latestMessage string) string {
	list := "- none"
	if len(unanswered) > 0 {
		lines := make([]string, 0, len(unanswered))
		for _, q := range unanswered {
			lines = append(lines, "- "+q)
		}
		list = strings.Join(lines, "\n")
	}

	prompt := strings.ReplaceAll(followupPrompt, "{{LATEST_MESSAGE}}", strings.TrimSpace(latestMessage))
	prompt = strings.ReplaceAll(prompt, "{{UNANSWERED}}", list)
	return prompt
}

func parseQuestions(raw string) ([]string, error) {
	cleaned := ai.ExtractJSON(raw)

	var questions []string
	if err := json.Unmarshal([]byte(cleaned), &questions); err != nil {
		return nil, fmt.Errorf("parse questions response: %w", err)
	}

	out := make([]string, 0, len(questions))
	for _, q := range questions {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func templateFollowUp(candidateName string, unanswered []string) string {
	var b strings.Builder
	name := strings.TrimSpace(candidateName)
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hi %s,\n\nThanks for getting back to us! A few questions are still open:\n\n", name)
	for _, q := range unanswered {
		fmt.Fprintf(&b, "- %s\n", q)
	}
	b.WriteString("\nWhenever you have a minute, a short answer to each would be a great help.\n")
	return b.String()
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}
