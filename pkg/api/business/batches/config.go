package batches

type RetryPolicy struct {
	// MaxAttempts caps the number of submission attempts. Zero keeps retrying
	// for as long as the provider reports an exhausted quota.
	MaxAttempts int `conf:"MAX_ATTEMPTS" default:"0"`
}

type Config struct {
	QuotaRetry RetryPolicy `conf:"QUOTA_RETRY"`
}
