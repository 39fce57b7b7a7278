package llm

import "time"

// RetryConfig bounds how hard Client.Complete works a single endpoint
// before moving on to the next entry in its fallback chain.
type RetryConfig struct {
	// MaxAttempts caps attempts against one endpoint.
	MaxAttempts int

	// BackoffBase is the delay before the second attempt.
	BackoffBase time.Duration

	// BackoffMultiplier scales the delay on each subsequent retry.
	BackoffMultiplier float64

	// MaxBackoff caps the computed delay regardless of attempt count.
	MaxBackoff time.Duration
}

// DefaultRetryConfig gives every endpoint three attempts per request before
// it's abandoned for that request. The attempts inside one request count as
// a single failure toward model.DefaultHealthConfig's threshold of three:
// Client marks an endpoint failed once, after its attempts are exhausted.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}
