package sideeffect

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nicktill/trafficwatch/pkg/logger"
)

func TestFire(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewZapLogger("test", logger.Options{}, &buf)

	err := Fire(context.Background(), l, "ok", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return nil
	})
	assert.NoError(t, err)
	assert.Empty(t, buf.String())

	boom := errors.New("boom")
	err = Fire(context.Background(), l, "refresh_views", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), `"side_effect":"refresh_views"`)
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestFire_RecoversPanic(t *testing.T) {
	err := Fire(context.Background(), logger.NewNop(), "notify", func(context.Context) error {
		panic("nil map")
	})
	assert.ErrorContains(t, err, "notify panicked")
}
