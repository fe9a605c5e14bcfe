package jobs

import "time"

type Config struct {
	DefaultMode     string `conf:"DEFAULT_MODE"     default:"batch"`
	DefaultResource string `conf:"DEFAULT_RESOURCE"`
	// OutputSuffix names the output of a job that sets none, next to its input.
	OutputSuffix string `conf:"OUTPUT_SUFFIX" default:".outputs.jsonl"`

	IdleBackoff time.Duration `conf:"IDLE_BACKOFF" default:"3s"`
}
