package gemini

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

type fakeModels struct {
	mu    sync.Mutex
	calls []modelCallRecord
	queue []fakeResponse
}

type modelCallRecord struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

type fakeResponse struct {
	resp *genai.GenerateContentResponse
	err  error
}

func (f *fakeModels) enqueue(resp *genai.GenerateContentResponse, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, fakeResponse{resp: resp, err: err})
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, modelCallRecord{model: model, contents: contents, config: config})
	if len(f.queue) == 0 {
		return nil, errors.New("unexpected call")
	}
	res := f.queue[0]
	f.queue = f.queue[1:]
	return res.resp, res.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func TestCompleteReturnsText(t *testing.T) {
	models := &fakeModels{}
	models.enqueue(textResponse("hello"), nil)

	g := &Generator{
		models:     models,
		model:      "gemini-pro",
		maxRetries: 0,
		logger:     zap.NewNop(),
	}

	output, err := g.Complete(context.Background(), "system", "prompt")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if output != "hello" {
		t.Fatalf("unexpected output: %q", output)
	}

	if len(models.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(models.calls))
	}

	call := models.calls[0]
	if call.config == nil || call.config.SystemInstruction == nil {
		t.Fatal("expected system instruction to be set")
	}
	if got := call.config.SystemInstruction.Parts[0].Text; got != "system" {
		t.Fatalf("unexpected system instruction: %q", got)
	}
}

func TestCompleteRetriesOnTemporaryError(t *testing.T) {
	originalSleep := sleep
	sleep = func(time.Duration) {}
	defer func() { sleep = originalSleep }()

	models := &fakeModels{}
	models.enqueue(nil, genai.APIError{Code: http.StatusInternalServerError, Status: "INTERNAL"})
	models.enqueue(textResponse("retry ok"), nil)

	g := &Generator{
		models:     models,
		model:      "gemini-pro",
		maxRetries: 2,
		logger:     zap.NewNop(),
	}

	output, err := g.Complete(context.Background(), "sys", "msg")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if output != "retry ok" {
		t.Fatalf("unexpected output: %q", output)
	}
	if len(models.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(models.calls))
	}
}

func TestCompleteStopsAfterRetriesExhausted(t *testing.T) {
	originalSleep := sleep
	sleep = func(time.Duration) {}
	defer func() { sleep = originalSleep }()

	models := &fakeModels{}
	tempErr := genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED"}
	models.enqueue(nil, tempErr)
	models.enqueue(nil, tempErr)
	models.enqueue(nil, tempErr)

	g := &Generator{
		models:     models,
		model:      "gemini-pro",
		maxRetries: 2,
		logger:     zap.NewNop(),
	}

	_, err := g.Complete(context.Background(), "sys", "msg")
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if len(models.calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(models.calls))
	}
}

func TestCompleteDoesNotRetryPermanentErrors(t *testing.T) {
	models := &fakeModels{}
	models.enqueue(nil, genai.APIError{Code: http.StatusBadRequest, Status: "INVALID_ARGUMENT"})

	g := &Generator{
		models:     models,
		model:      "gemini-pro",
		maxRetries: 3,
		logger:     zap.NewNop(),
	}

	_, err := g.Complete(context.Background(), "sys", "msg")
	if err == nil {
		t.Fatal("expected error for permanent failure")
	}
	if len(models.calls) != 1 {
		t.Fatalf("expected single call, got %d", len(models.calls))
	}
}

func TestCompleteRejectsEmptyPrompt(t *testing.T) {
	g := &Generator{
		models: &fakeModels{},
		model:  "gemini-pro",
		logger: zap.NewNop(),
	}

	if _, err := g.Complete(context.Background(), "sys", "   "); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestModel(t *testing.T) {
	g := &Generator{model: "gemini-pro"}
	if g.Model() != "gemini-pro" {
		t.Fatalf("unexpected model: %q", g.Model())
	}

	var missing *Generator
	if missing.Model() != "" {
		t.Fatal("expected empty model for nil generator")
	}
}
