package vetting

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"

	"github.com/screenvet/screenvet/internal/ai"
	"github.com/screenvet/screenvet/internal/logger"
	"github.com/screenvet/screenvet/internal/models"
)

//go:embed prompts/classify.md
var classifyPrompt string

// Classification is the structured judgment of one inbound reply.
type Classification struct {
	Intent    models.Intent
	Reasoning string
	// Answers is keyed by question index.
	Answers map[int]string
	// CandidateQuestions are questions the candidate asked us.
	CandidateQuestions []string
}

// Classifier turns a free-text reply body into a Classification.
type Classifier struct {
	completer ai.Completer
	logger    *zap.Logger
	maxLogLen int
}

// NewClassifier creates the classifier.
func NewClassifier(completer ai.Completer, log *zap.Logger, maxLogLength int) *Classifier {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Classifier{
		completer: completer,
		logger:    log,
		maxLogLen: maxLogLength,
	}
}

// Classify judges the reply. Ambiguous or failed classifications default
// conservatively to the answer intent with an empty extraction set so a
// genuine reply is never silently dropped.
func (c *Classifier) Classify(ctx context.Context, sess *models.Session, body string) *Classification {
	prompt := buildClassifyPrompt(sess.Questions, body)

	c.logger.Debug("classification request",
		logger.SessionField(sess.ID),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
	)

	raw, err := c.completer.Complete(ctx, systemInstruction, prompt)
	if err != nil {
		c.logger.Warn("classification failed, defaulting to answer intent",
			logger.SessionField(sess.ID),
			zap.Error(err),
		)
		return conservativeDefault("classifier call failed")
	}

	classification, err := parseClassification(raw)
	if err != nil {
		c.logger.Warn("classification response malformed, defaulting to answer intent",
			logger.SessionField(sess.ID),
			zap.Error(err),
			zap.String("response_preview", logger.TruncateForLog(raw, c.maxLogLen)),
		)
		return conservativeDefault("classifier response malformed")
	}

	c.logger.Debug("reply classified",
		logger.SessionField(sess.ID),
		zap.String("intent", string(classification.Intent)),
		zap.Int("extracted_answers", len(classification.Answers)),
	)

	return classification
}

func buildClassifyPrompt(questions []string, body string) string {
	var list strings.Builder
	for i, q := range questions {
		fmt.Fprintf(&list, "%d. %s\n", i, q)
	}

	prompt := strings.ReplaceAll(classifyPrompt, "{{QUESTIONS}}", strings.TrimSpace(list.String()))
	prompt = strings.ReplaceAll(prompt, "{{BODY}}", strings.TrimSpace(body))
	return prompt
}

func parseClassification(raw string) (*Classification, error) {
	cleaned := ai.ExtractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse classification: %w", err)
	}

	intent := models.Intent(strings.ToLower(ai.CoerceString(data["intent"])))
	if !models.KnownIntent(intent) {
		// an unknown label keeps the conversation open
		intent = models.IntentAnswer
	}

	answers := make(map[int]string)
	if rawAnswers, ok := data["answers"].(map[string]any); ok {
		for key, value := range rawAnswers {
			idx, err := strconv.Atoi(strings.TrimSpace(key))
			if err != nil {
				continue
			}
			answer := ai.CoerceString(value)
			if answer == "" {
				continue
			}
			answers[idx] = answer
		}
	}

	return &Classification{
		Intent:             intent,
		Reasoning:          ai.CoerceString(data["reasoning"]),
		Answers:            answers,
		CandidateQuestions: ai.CoerceStringSlice(data["questions"]),
	}, nil
}

func conservativeDefault(reason string) *Classification {
	return &Classification{
		Intent:    models.IntentAnswer,
		Reasoning: reason,
		Answers:   map[int]string{},
	}
}
