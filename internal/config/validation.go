package config

import (
	"fmt"
	"net"
	"time"

	"github.com/gxo-labs/statesync/internal/logger"
	"github.com/gxo-labs/statesync/internal/transport"
	syncerrors "github.com/gxo-labs/statesync/pkg/statesync/v1/errors"
)

// ValidateConfig performs the logical checks the schema cannot express. It
// collects every problem instead of stopping at the first.
func ValidateConfig(cfg *Config) []error {
	var errs []error
	if cfg == nil {
		return []error{syncerrors.NewValidationError("configuration cannot be nil", nil)}
	}

	if cfg.Log.Level != "" {
		if _, ok := logger.ParseLevel(cfg.Log.Level); !ok {
			errs = append(errs, syncerrors.NewValidationError(fmt.Sprintf("'log.level' value '%s' is not one of debug, info, warn, error", cfg.Log.Level), nil))
		}
	}
	switch cfg.Log.Format {
	case "", LogFormatText, LogFormatJSON:
	default:
		errs = append(errs, syncerrors.NewValidationError(fmt.Sprintf("'log.format' value '%s' is not supported", cfg.Log.Format), nil))
	}

	if _, err := transport.ParseCodec(cfg.Transport.Codec); err != nil {
		errs = append(errs, syncerrors.NewValidationError(fmt.Sprintf("'transport.codec': %v", err), err))
	}
	if cfg.Transport.MailboxWarnDepth < 0 {
		errs = append(errs, syncerrors.NewValidationError("'transport.mailbox_warn_depth' cannot be negative", nil))
	}

	if cfg.Diagnostics.BufferSize < 0 {
		errs = append(errs, syncerrors.NewValidationError("'diagnostics.buffer_size' cannot be negative", nil))
	}

	errs = append(errs, validateRetry("client.spawn_retry", cfg.Client.SpawnRetry)...)

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			errs = append(errs, syncerrors.NewValidationError("'metrics.listen' is required when metrics are enabled", nil))
		} else if _, _, err := net.SplitHostPort(cfg.Metrics.Listen); err != nil {
			errs = append(errs, syncerrors.NewValidationError(fmt.Sprintf("'metrics.listen' value '%s' is not a host:port address", cfg.Metrics.Listen), err))
		}
	}

	return errs
}

func validateRetry(path string, r RetryConfig) []error {
	var errs []error
	if r.Attempts < 0 {
		errs = append(errs, syncerrors.NewValidationError(fmt.Sprintf("'%s.attempts' cannot be negative", path), nil))
	}
	if r.BackoffFactor < 0 {
		errs = append(errs, syncerrors.NewValidationError(fmt.Sprintf("'%s.backoff_factor' cannot be negative", path), nil))
	}

	var baseDelay time.Duration
	var delayErr error
	if r.Delay != "" {
		baseDelay, delayErr = time.ParseDuration(r.Delay)
		if delayErr != nil {
			errs = append(errs, syncerrors.NewValidationError(fmt.Sprintf("invalid format for '%s.delay': %v", path, delayErr), nil))
		} else if baseDelay < 0 {
			errs = append(errs, syncerrors.NewValidationError(fmt.Sprintf("'%s.delay' cannot be negative", path), nil))
		}
	}
	if r.MaxDelay != "" {
		maxDelay, err := time.ParseDuration(r.MaxDelay)
		if err != nil {
			errs = append(errs, syncerrors.NewValidationError(fmt.Sprintf("invalid format for '%s.max_delay': %v", path, err), nil))
		} else if maxDelay > 0 && delayErr == nil && maxDelay < baseDelay {
			errs = append(errs, syncerrors.NewValidationError(fmt.Sprintf("'%s.max_delay' (%v) cannot be less than '%s.delay' (%v)", path, maxDelay, path, baseDelay), nil))
		}
	}
	return errs
}
