package dynamodb_store

import "time"

type Config struct {
	ConnectionEndpoint          string `conf:"CONNECTION_ENDPOINT" default:"http://localhost:4566"`
	ConnectionProfile           string `conf:"CONNECTION_PROFILE" default:"default"`
	ConnectionRegion            string `conf:"CONNECTION_REGION" default:"eu-west-1"`
	TableCreationTimeoutMinutes int    `conf:"TABLE_CREATION_TIMEOUT_MINUTES" default:"2"`
}

func (c *Config) GetTableCreationTimeout() time.Duration {
	if c.TableCreationTimeoutMinutes <= 0 {
		return 2 * time.Minute
	}

	return time.Duration(c.TableCreationTimeoutMinutes) * time.Minute
}
