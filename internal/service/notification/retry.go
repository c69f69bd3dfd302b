package notification

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/domain"
)

// RetryConfig конфигурация повторов отправки в канал.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию: 3 попытки,
// паузы 1s и 2s между ними.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		MaxDelay:      4 * time.Second,
		BackoffFactor: 2.0,
	}
}

// normalized подставляет значения по умолчанию вместо некорректных.
func (c RetryConfig) normalized() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = def.BackoffFactor
	}
	return c
}

// Delay возвращает паузу после неудачной попытки attempt (нумерация с 1).
func (c RetryConfig) Delay(attempt int) time.Duration {
	delay := c.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.BackoffFactor)
		if delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// SleepFunc ждёт d или отмены ctx.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// shouldRetry определяет, стоит ли повторять отправку при данной ошибке.
func shouldRetry(err error) bool {
	if errors.Is(err, domain.ErrChannelNotConfigured) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// executeWithRetry вызывает fn до MaxAttempts раз. onAttempt получает результат
// каждой попытки.
func executeWithRetry(ctx context.Context, cfg RetryConfig, sleep SleepFunc, logger *log.Entry, fn func(context.Context) error, onAttempt func(error)) error {
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if onAttempt != nil {
			onAttempt(err)
		}
		if err == nil {
			if attempt > 1 {
				logger.WithField("attempt", attempt).Info("send succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			logger.WithError(err).Warn("send failed with non-retryable error")
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.Delay(attempt)
		logger.WithError(err).WithFields(log.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("send failed, retrying")
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return lastErr
		}
	}

	logger.WithError(lastErr).WithField("max_attempts", cfg.MaxAttempts).Error("send failed after all retry attempts")
	return lastErr
}
