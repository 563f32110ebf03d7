package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/swarmhub/swarmhub/internal/hub/wire"
)

// resetThreshold is the connection lifetime after which the backoff
// interval resets.
const resetThreshold = 30 * time.Second

// newDefaultBackoff creates an exponential backoff: 1s → 60s,
// multiplier 2x, ±20% jitter.
func newDefaultBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 60 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2
	b.Reset()
	return b
}

// Run dials the hub and hands the connection to fn, redialing with
// exponential backoff whenever the connection or fn fails. Each redial
// resumes the event stream from the last sequence number seen, so fn
// observes every event exactly once as long as the hub still retains
// it. Run returns when ctx is cancelled, when fn returns nil, or on an
// authentication failure.
func Run(ctx context.Context, opts Options, fn func(ctx context.Context, c *Client) error) error {
	bo := newDefaultBackoff()
	sinceSeq := opts.SinceSeq

	for {
		start := time.Now()
		opts.SinceSeq = sinceSeq

		err := runOnce(ctx, opts, fn, &sinceSeq)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil
		}
		var werr *wire.Error
		if errors.As(err, &werr) && werr.Code == wire.CodeUnauthenticated {
			return err
		}

		if time.Since(start) >= resetThreshold {
			bo.Reset()
		}
		interval := bo.NextBackOff()
		slog.Warn("disconnected from hub, reconnecting...", "error", err, "backoff", interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func runOnce(ctx context.Context, opts Options, fn func(ctx context.Context, c *Client) error, sinceSeq *int64) error {
	c, err := Dial(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		*sinceSeq = c.Seq()
		_ = c.Close()
	}()
	return fn(ctx, c)
}
