package logging

import "go.uber.org/zap"

// New builds the process-wide structured logger. Development mode
// uses the human-readable console encoder.
func New(env string) (*zap.Logger, error) {
	if env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
