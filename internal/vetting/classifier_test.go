package vetting

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/screenvet/screenvet/internal/models"
)

func TestClassifyParsesFullResponse(t *testing.T) {
	completer := &scriptedCompleter{}
	completer.enqueue("```json\n" + `{
		"intent": "answer",
		"reasoning": "answered both questions",
		"answers": {"0": "Six years.", "1": "Two weeks."},
		"questions": ["Is the role remote?"]
	}` + "\n```")

	c := NewClassifier(completer, zap.NewNop(), 0)
	cls := c.Classify(context.Background(), testSession(), "Six years. Two weeks. Is the role remote?")

	if cls.Intent != models.IntentAnswer {
		t.Fatalf("expected answer intent, got %s", cls.Intent)
	}
	if cls.Answers[0] != "Six years." || cls.Answers[1] != "Two weeks." {
		t.Fatalf("unexpected answers: %v", cls.Answers)
	}
	if len(cls.CandidateQuestions) != 1 || cls.CandidateQuestions[0] != "Is the role remote?" {
		t.Fatalf("unexpected candidate questions: %v", cls.CandidateQuestions)
	}
	if cls.Reasoning != "answered both questions" {
		t.Fatalf("unexpected reasoning: %q", cls.Reasoning)
	}
}

func TestClassifyDecline(t *testing.T) {
	completer := &scriptedCompleter{}
	completer.enqueue(`{"intent":"DECLINE","reasoning":"said no"}`)

	c := NewClassifier(completer, zap.NewNop(), 0)
	cls := c.Classify(context.Background(), testSession(), "no thanks")

	if cls.Intent != models.IntentDecline {
		t.Fatalf("expected decline, got %s", cls.Intent)
	}
}

func TestClassifyUnknownIntentKeepsConversationOpen(t *testing.T) {
	completer := &scriptedCompleter{}
	completer.enqueue(`{"intent":"shrug","answers":{"0":"maybe"}}`)

	c := NewClassifier(completer, zap.NewNop(), 0)
	cls := c.Classify(context.Background(), testSession(), "maybe")

	if cls.Intent != models.IntentAnswer {
		t.Fatalf("expected answer fallback for unknown label, got %s", cls.Intent)
	}
	if cls.Answers[0] != "maybe" {
		t.Fatalf("expected extraction to survive, got %v", cls.Answers)
	}
}

func TestClassifySkipsMalformedAnswerKeys(t *testing.T) {
	completer := &scriptedCompleter{}
	completer.enqueue(`{"intent":"answer","answers":{"0":"ok","first":"skip","2":""}}`)

	c := NewClassifier(completer, zap.NewNop(), 0)
	cls := c.Classify(context.Background(), testSession(), "ok")

	if len(cls.Answers) != 1 || cls.Answers[0] != "ok" {
		t.Fatalf("expected only the valid entry, got %v", cls.Answers)
	}
}

func TestClassifyDefaultsOnModelFailure(t *testing.T) {
	completer := &scriptedCompleter{}
	completer.enqueueErr(errors.New("model unavailable"))

	c := NewClassifier(completer, zap.NewNop(), 0)
	cls := c.Classify(context.Background(), testSession(), "some reply")

	if cls.Intent != models.IntentAnswer {
		t.Fatalf("expected conservative answer default, got %s", cls.Intent)
	}
	if len(cls.Answers) != 0 {
		t.Fatalf("expected no extracted answers, got %v", cls.Answers)
	}
}

func TestClassifyDefaultsOnMalformedResponse(t *testing.T) {
	completer := &scriptedCompleter{}
	completer.enqueue("I think the candidate answered the questions.")

	c := NewClassifier(completer, zap.NewNop(), 0)
	cls := c.Classify(context.Background(), testSession(), "some reply")

	if cls.Intent != models.IntentAnswer {
		t.Fatalf("expected conservative answer default, got %s", cls.Intent)
	}
	if len(cls.Answers) != 0 {
		t.Fatalf("expected no extracted answers, got %v", cls.Answers)
	}
}
