package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWaitForReturnsImmediatelyOnZeroDuration(t *testing.T) {
	if err := WaitFor(context.Background(), 0); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestWaitForCompletes(t *testing.T) {
	original := sleep
	sleep = func(time.Duration) {}
	defer func() { sleep = original }()

	if err := WaitFor(context.Background(), time.Second); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestWaitForHonorsCancellation(t *testing.T) {
	original := sleep
	blocked := make(chan struct{})
	sleep = func(time.Duration) { <-blocked }
	defer func() {
		close(blocked)
		sleep = original
	}()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WaitFor(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
