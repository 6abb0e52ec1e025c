package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// PipelinePath is the pipeline HCL file to execute.
	PipelinePath string
	// OutputPath overrides the output block of the pipeline when set.
	OutputPath string

	LogFormat string
	LogLevel  string
}

// NewConfig validates a Config and returns it.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.PipelinePath == "" {
		return nil, errors.New("PipelinePath is a required configuration field and cannot be empty")
	}
	return &cfg, nil
}
