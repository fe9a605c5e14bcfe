package s3_store

type Config struct {
	ConnectionEndpoint string `conf:"CONNECTION_ENDPOINT" default:"http://localhost:4566"`
	ConnectionProfile  string `conf:"CONNECTION_PROFILE" default:"default"`
	ConnectionRegion   string `conf:"CONNECTION_REGION" default:"eu-west-1"`
	// Localstack and most S3-compatible servers only serve path-style urls.
	UsePathStyle bool `conf:"USE_PATH_STYLE" default:"true"`
}
