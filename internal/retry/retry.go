package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	syncerrors "github.com/gxo-labs/statesync/pkg/statesync/v1/errors"
	synclog "github.com/gxo-labs/statesync/pkg/statesync/v1/log"
)

type Operation func(ctx context.Context) error

type Config struct {
	Attempts      int
	Delay         time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        float64
	// Name prefixes log lines, e.g. the worker path being spawned.
	Name string
	// Retryable decides whether an error is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool
}

type Helper struct {
	log synclog.Logger

	mu         sync.Mutex
	randSource *rand.Rand
}

func NewHelper(log synclog.Logger) *Helper {
	if log == nil {
		panic("retry.NewHelper requires a non-nil logger")
	}
	return &Helper{
		log:        log,
		randSource: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Do runs op until it succeeds, the attempts are used up, the error is not
// retryable, or ctx is done. The last error is returned as is.
func (h *Helper) Do(ctx context.Context, cfg Config, op Operation) error {
	cfg = normalize(cfg)
	logPrefix := ""
	if cfg.Name != "" {
		logPrefix = fmt.Sprintf("[%s] ", cfg.Name)
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				return err
			}
			return fmt.Errorf("retry cancelled after %d attempts with last error: %w", attempt-1, lastErr)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			if attempt > 1 {
				h.log.Infof("%sOperation succeeded on attempt %d/%d", logPrefix, attempt, cfg.Attempts)
			}
			return nil
		}
		if attempt == cfg.Attempts || (cfg.Retryable != nil && !cfg.Retryable(lastErr)) {
			break
		}

		wait := h.backoff(cfg, attempt)
		h.log.Warnf("%sOperation failed on attempt %d/%d (retrying in %v): %v",
			logPrefix, attempt, cfg.Attempts, wait.Truncate(time.Millisecond), lastErr)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry delay cancelled after attempt %d with error: %w", attempt, lastErr)
		}
	}

	if lastErr != nil {
		h.log.Errorf("%sOperation failed definitively after %d attempts: %v", logPrefix, cfg.Attempts, lastErr)
		return lastErr
	}
	return syncerrors.NewConfigError("retry loop finished unexpectedly without success or error", nil)
}

func normalize(cfg Config) Config {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.BackoffFactor < 1.0 {
		cfg.BackoffFactor = 1.0
	}
	if cfg.Jitter < 0.0 {
		cfg.Jitter = 0.0
	} else if cfg.Jitter > 1.0 {
		cfg.Jitter = 1.0
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.MaxDelay < 0 {
		cfg.MaxDelay = 0
	}
	return cfg
}

// backoff computes the wait after the given failed attempt.
func (h *Helper) backoff(cfg Config, attempt int) time.Duration {
	base := float64(cfg.Delay) * math.Pow(cfg.BackoffFactor, float64(attempt-1))
	if base > float64(math.MaxInt64) {
		base = float64(math.MaxInt64)
	}
	wait := time.Duration(base)

	if cfg.Jitter > 0.0 {
		h.mu.Lock()
		factor := cfg.Jitter * (h.randSource.Float64()*2.0 - 1.0)
		h.mu.Unlock()
		wait += time.Duration(float64(wait) * factor)
		if wait < 0 {
			wait = 0
		}
	}
	if cfg.MaxDelay > 0 && wait > cfg.MaxDelay {
		wait = cfg.MaxDelay
	}
	return wait
}
