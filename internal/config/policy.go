package config

import (
	"fmt"
	"time"

	v1 "github.com/gxo-labs/statesync/pkg/statesync/v1"
	syncerrors "github.com/gxo-labs/statesync/pkg/statesync/v1/errors"
)

// Policy converts the retry block into the client's RetryPolicy. Empty
// durations map to zero.
func (r RetryConfig) Policy() (v1.RetryPolicy, error) {
	delay, err := parseOptionalDuration(r.Delay)
	if err != nil {
		return v1.RetryPolicy{}, syncerrors.NewConfigError(fmt.Sprintf("invalid 'delay' value '%s'", r.Delay), err)
	}
	maxDelay, err := parseOptionalDuration(r.MaxDelay)
	if err != nil {
		return v1.RetryPolicy{}, syncerrors.NewConfigError(fmt.Sprintf("invalid 'max_delay' value '%s'", r.MaxDelay), err)
	}
	return v1.RetryPolicy{
		Attempts:      r.Attempts,
		Delay:         delay,
		MaxDelay:      maxDelay,
		BackoffFactor: r.BackoffFactor,
	}, nil
}

// SpawnRetryPolicy is shorthand for c.Client.SpawnRetry.Policy().
func (c *Config) SpawnRetryPolicy() (v1.RetryPolicy, error) {
	return c.Client.SpawnRetry.Policy()
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
