package log

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferSyncer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *bufferSyncer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *bufferSyncer) Sync() error { return nil }

func (b *bufferSyncer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestZapLogger(t *testing.T) {
	t.Run("Writes structured output", func(t *testing.T) {
		buf := &bufferSyncer{}
		lg := NewZapLogger(Config{Format: "logfmt", Level: LevelDebug}, buf)

		lg.Info("recovery started", "address", "0xabc")

		out := buf.String()
		assert.Contains(t, out, "recovery started")
		assert.Contains(t, out, "0xabc")
	})

	t.Run("Level filtering", func(t *testing.T) {
		buf := &bufferSyncer{}
		lg := NewZapLogger(Config{Format: "json", Level: LevelWarn}, buf)

		lg.Debug("too quiet to show")
		lg.Warn("loud enough")

		out := buf.String()
		assert.NotContains(t, out, "too quiet to show")
		assert.Contains(t, out, "loud enough")
	})

	t.Run("WithKV and WithName propagate", func(t *testing.T) {
		buf := &bufferSyncer{}
		lg := NewZapLogger(Config{Format: "logfmt", Level: LevelDebug}, buf)

		named := lg.WithName("orchestrator").WithKV("chain", uint64(1))
		named.Info("probing endpoint")

		require.Equal(t, "orchestrator", named.Name())
		out := buf.String()
		assert.Contains(t, out, "probing endpoint")
		assert.Contains(t, out, "chain")
	})
}

func TestContextLogger(t *testing.T) {
	t.Run("Round trip", func(t *testing.T) {
		lg := NewNoopLogger()
		ctx := SetContextLogger(context.Background(), lg)
		assert.Equal(t, lg, FromContext(ctx))
	})

	t.Run("Missing logger falls back to noop", func(t *testing.T) {
		lg := FromContext(context.Background())
		require.NotNil(t, lg)
		assert.Equal(t, "noop", lg.Name())
	})

	t.Run("Nil logger stored as noop", func(t *testing.T) {
		ctx := SetContextLogger(context.Background(), nil)
		assert.Equal(t, "noop", FromContext(ctx).Name())
	})
}
