package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Gateway runs inference with tiered model fallback. Tiers are tried in
// configured order; a transient failure moves to the next tier, a permanent
// failure aborts the whole call.
type Gateway struct {
	client Client
	tiers  []string
	logger *slog.Logger
}

// Result is a successful inference outcome.
type Result struct {
	Text  string
	Model string
}

// NewGateway creates a Gateway over the given model tiers. tiers must be
// ordered from most to least preferred.
func NewGateway(client Client, tiers []string, logger *slog.Logger) *Gateway {
	return &Gateway{
		client: client,
		tiers:  tiers,
		logger: logger,
	}
}

// Invoke tries each tier in order until one succeeds. The returned Result
// records which model produced the text. When every tier fails transiently
// the error wraps ErrAllModelsFailed; a permanent rejection is returned
// as-is from the tier that produced it.
func (g *Gateway) Invoke(ctx context.Context, req GenerateRequest) (*Result, error) {
	var lastErr error
	for _, model := range g.tiers {
		text, err := g.client.GenerateContent(ctx, model, req)
		if err == nil {
			return &Result{Text: text, Model: model}, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		g.logger.Warn("model tier failed, trying next", "model", model, "error", err)
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	if lastErr == nil {
		return nil, errors.New("no model tiers configured")
	}
	return nil, fmt.Errorf("%w: last error: %v", ErrAllModelsFailed, lastErr)
}
