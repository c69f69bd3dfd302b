package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
)

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxAttempts != 3 {
		t.Fatalf("unexpected MaxAttempts: %d", cfg.MaxAttempts)
	}
	if got := cfg.Delay(1); got != time.Second {
		t.Fatalf("expected first delay 1s, got %v", got)
	}
	if got := cfg.Delay(2); got != 2*time.Second {
		t.Fatalf("expected second delay 2s, got %v", got)
	}
	if got := cfg.Delay(3); got != 4*time.Second {
		t.Fatalf("expected third delay 4s, got %v", got)
	}
	if got := cfg.Delay(10); got != cfg.MaxDelay {
		t.Fatalf("expected delay capped at %v, got %v", cfg.MaxDelay, got)
	}
}

func TestRetryConfigNormalized(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: -1, InitialDelay: -time.Second, BackoffFactor: 0}.normalized()
	if cfg.MaxAttempts != 3 || cfg.InitialDelay != 0 || cfg.BackoffFactor != 2 || cfg.MaxDelay <= 0 {
		t.Fatalf("unexpected normalized config: %+v", cfg)
	}
}

func TestExecuteWithRetry(t *testing.T) {
	logger := log.New().WithField("test", "retry")
	cfg := DefaultRetryConfig()

	t.Run("retry then success", func(t *testing.T) {
		var slept []time.Duration
		sleep := func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}
		attempts := 0
		err := executeWithRetry(context.Background(), cfg, sleep, logger, func(context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("temporary")
			}
			return nil
		}, nil)
		if err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		if attempts != 3 {
			t.Fatalf("expected 3 attempts, got %d", attempts)
		}
		if len(slept) != 2 || slept[0] != time.Second || slept[1] != 2*time.Second {
			t.Fatalf("expected backoff 1s, 2s; got %v", slept)
		}
	})

	t.Run("non-retryable", func(t *testing.T) {
		attempts := 0
		err := executeWithRetry(context.Background(), cfg, func(context.Context, time.Duration) error { return nil }, logger,
			func(context.Context) error {
				attempts++
				return domain.ErrChannelNotConfigured
			}, nil)
		if !errors.Is(err, domain.ErrChannelNotConfigured) || attempts != 1 {
			t.Fatalf("expected single attempt, got %d (%v)", attempts, err)
		}
	})

	t.Run("cancelled during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		attempts := 0
		err := executeWithRetry(ctx, cfg, sleepContext, logger, func(context.Context) error {
			attempts++
			cancel()
			return errors.New("temporary")
		}, nil)
		if err == nil || attempts != 1 {
			t.Fatalf("expected to stop after cancellation, attempts=%d err=%v", attempts, err)
		}
	})

	t.Run("reports every attempt", func(t *testing.T) {
		var outcomes []bool
		_ = executeWithRetry(context.Background(), cfg, func(context.Context, time.Duration) error { return nil }, logger,
			func(context.Context) error { return errors.New("down") },
			func(err error) { outcomes = append(outcomes, err == nil) })
		if len(outcomes) != 3 {
			t.Fatalf("expected 3 attempt reports, got %d", len(outcomes))
		}
	})
}
