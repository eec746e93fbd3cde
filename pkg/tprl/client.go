package tprl

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/casualjim/delver/pkg/slogx"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
)

func envStrOrDefault(key string, def string) string {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	return s
}

// NewClient creates a lazy Temporal client using TEMPORAL_ADDRESS, logging
// through the default slog logger.
func NewClient() (client.Client, error) {
	lg := slog.Default().With(slogx.LoggerName("delver.temporal"))

	cl, err := client.NewLazyClient(client.Options{
		HostPort: envStrOrDefault("TEMPORAL_ADDRESS", client.DefaultHostPort),
		Logger:   log.NewStructuredLogger(lg),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create temporal client: %w", err)
	}
	return cl, nil
}
