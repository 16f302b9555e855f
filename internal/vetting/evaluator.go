package vetting

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	_ "embed"

	"go.uber.org/zap"

	"github.com/screenvet/screenvet/internal/ai"
	"github.com/screenvet/screenvet/internal/logger"
	"github.com/screenvet/screenvet/internal/models"
)

//go:embed prompts/outcome.md
var outcomePrompt string

// qualifiedRatio is the answered-questions ratio at or above which the
// deterministic fallback recommends qualified.
const qualifiedRatio = 0.6

// fallbackScore is the neutral score recorded when the model could not score
// the conversation.
const fallbackScore = 50.0

// Outcome is the final recommendation for a finished conversation.
type Outcome struct {
	Recommendation models.SessionStatus // StatusQualified or StatusNotQualified
	Score          float64              // 0..100
	Summary        string
}

// Evaluator produces the final qualified/not-qualified recommendation.
type Evaluator struct {
	completer ai.Completer
	logger    *zap.Logger
	maxLogLen int
}

// NewEvaluator creates the evaluator.
func NewEvaluator(completer ai.Completer, log *zap.Logger, maxLogLength int) *Evaluator {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Evaluator{
		completer: completer,
		logger:    log,
		maxLogLen: maxLogLength,
	}
}

// Evaluate scores the conversation. Model or parse failures fall back to the
// answered-ratio heuristic; this method never fails.
func (e *Evaluator) Evaluate(ctx context.Context, sess *models.Session, turns []*models.Turn) *Outcome {
	prompt := buildOutcomePrompt(sess, turns)

	raw, err := e.completer.Complete(ctx, systemInstruction, prompt)
	if err != nil {
		e.logger.Warn("outcome evaluation failed, using heuristic",
			logger.SessionField(sess.ID),
			zap.Error(err),
		)
		return heuristicOutcome(sess)
	}

	outcome, err := parseOutcome(raw)
	if err != nil {
		e.logger.Warn("outcome response malformed, using heuristic",
			logger.SessionField(sess.ID),
			zap.Error(err),
			zap.String("response_preview", logger.TruncateForLog(raw, e.maxLogLen)),
		)
		return heuristicOutcome(sess)
	}

	return outcome
}

func buildOutcomePrompt(sess *models.Session, turns []*models.Turn) string {
	var qa strings.Builder
	for _, pair := range sess.QAPairs() {
		answer := pair.Answer
		if answer == "" {
			answer = "(no answer)"
		}
		fmt.Fprintf(&qa, "Q: %s\nA: %s\n", pair.Question, answer)
	}

	var transcript strings.Builder
	for _, turn := range turns {
		speaker := "Candidate"
		if turn.Direction == models.DirectionOutbound {
			speaker = "Assistant"
		}
		fmt.Fprintf(&transcript, "[%d] %s: %s\n", turn.TurnNumber, speaker, strings.TrimSpace(turn.Body))
	}

	prompt := strings.ReplaceAll(outcomePrompt, "{{JOB_TITLE}}", orNone(sess.JobTitle))
	prompt = strings.ReplaceAll(prompt, "{{QA}}", strings.TrimSpace(qa.String()))
	prompt = strings.ReplaceAll(prompt, "{{TRANSCRIPT}}", strings.TrimSpace(transcript.String()))
	return prompt
}

func parseOutcome(raw string) (*Outcome, error) {
	cleaned := ai.ExtractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse outcome: %w", err)
	}

	recommendation := strings.ToLower(ai.CoerceString(data["recommendation"]))
	var status models.SessionStatus
	switch recommendation {
	case "qualified":
		status = models.StatusQualified
	case "not_qualified":
		status = models.StatusNotQualified
	default:
		return nil, fmt.Errorf("unknown recommendation %q", recommendation)
	}

	score := ai.CoerceFloat(data["score"])
	if math.IsNaN(score) {
		score = fallbackScore
	}
	score = math.Max(0, math.Min(100, score))

	return &Outcome{
		Recommendation: status,
		Score:          score,
		Summary:        ai.CoerceString(data["summary"]),
	}, nil
}

func heuristicOutcome(sess *models.Session) *Outcome {
	status := models.StatusNotQualified
	ratio := 0.0
	if len(sess.Questions) > 0 {
		ratio = float64(sess.AnsweredCount()) / float64(len(sess.Questions))
	}
	if ratio >= qualifiedRatio {
		status = models.StatusQualified
	}

	return &Outcome{
		Recommendation: status,
		Score:          fallbackScore,
		Summary: fmt.Sprintf(
			"Automatic assessment unavailable; candidate answered %d of %d questions.",
			sess.AnsweredCount(), len(sess.Questions),
		),
	}
}
