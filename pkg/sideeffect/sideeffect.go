// Package sideeffect runs best-effort follow-up actions whose failure must not
// fail the operation that triggered them.
package sideeffect

import (
	"context"
	"fmt"
	"time"

	"github.com/nicktill/trafficwatch/pkg/logger"
)

// DefaultTimeout bounds a single side effect.
const DefaultTimeout = 10 * time.Second

// Fire runs fn with a bounded context. A failure or panic is logged as a
// warning and returned so the caller can report it; it is never fatal.
func Fire(ctx context.Context, l *logger.Logger, name string, fn func(ctx context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("side effect %s panicked: %v", name, r)
		}
		if err != nil {
			l.Warning("side effect failed", map[string]any{
				"side_effect": name,
				"error":       err.Error(),
				"duration_ms": time.Since(start).Milliseconds(),
			})
		}
	}()

	return fn(ctx)
}
