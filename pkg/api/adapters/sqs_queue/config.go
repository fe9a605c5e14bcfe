package sqs_queue

type Config struct {
	ConnectionEndpoint string `conf:"connection_endpoint" default:"http://localhost:4566"`
	ConnectionProfile  string `conf:"connection_profile" default:"default"`
	ConnectionRegion   string `conf:"connection_region" default:"eu-west-1"`

	JobQueueName string `conf:"job_queue_name" default:"aicaller-jobs"`

	MaxNumberOfMessages int32 `conf:"max_number_of_messages" default:"1"`
	WaitTimeSeconds     int32 `conf:"wait_time_seconds" default:"10"`
	// A job may hold its message while a batch runs for hours; the receive
	// visibility must cover that.
	VisibilityTimeout int32 `conf:"visibility_timeout" default:"43200"`
}
