package llm

import (
	"context"

	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

// FailoverClient retries a failed completion on a secondary provider.
type FailoverClient struct {
	primary   Client
	secondary Client
	logger    *logging.Logger
}

// NewFailoverClient wraps primary. A nil secondary makes it a passthrough.
func NewFailoverClient(primary, secondary Client, logger *logging.Logger) *FailoverClient {
	if primary == nil {
		panic("llm: primary client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FailoverClient{primary: primary, secondary: secondary, logger: logger}
}

func (c *FailoverClient) Complete(ctx context.Context, req Request) (Response, error) {
	resp, err := c.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}

	c.logger.Warn("primary llm failed", "error", err, "secondary_available", c.secondary != nil)
	if c.secondary == nil || ctx.Err() != nil {
		return Response{}, err
	}

	resp, secondaryErr := c.secondary.Complete(ctx, req)
	if secondaryErr != nil {
		c.logger.Error("secondary llm also failed", "primary_error", err, "secondary_error", secondaryErr)
		return Response{}, secondaryErr
	}
	return resp, nil
}
