package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/chatflow/internal/logger"
)

const maxBackoff = 30 * time.Second

// withRetry повторяет attempt с экспоненциальной задержкой (2s, 4s, ... до 30s), пока не истечёт maxWait
// или не отменится ctx. what — имя ресурса для логов ("db", "redis").
func withRetry(ctx context.Context, what string, maxWait time.Duration, attempt func(context.Context) error) error {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		err := attempt(ctx)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s: gave up after %v: %w", what, maxWait, err)
		}
		logger.Errorf("%s connect failed, retry in %v: %v", what, backoff, err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
