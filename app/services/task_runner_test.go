package services

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestRunner(maxInFlight int) (*BackgroundTaskRunner, *syncBuffer) {
	out := &syncBuffer{}
	return NewBackgroundTaskRunner(maxInFlight, time.Second, log.New(out, "", 0)), out
}

func TestBackgroundTaskRunner(t *testing.T) {
	t.Run("runs accepted task", func(t *testing.T) {
		r, _ := newTestRunner(4)
		var ran atomic.Bool
		require.True(t, r.Go("ok", func(ctx context.Context) error {
			ran.Store(true)
			return nil
		}))
		r.Wait()
		assert.True(t, ran.Load())
	})

	t.Run("failure is logged and swallowed", func(t *testing.T) {
		r, out := newTestRunner(4)
		require.True(t, r.Go("record_click", func(ctx context.Context) error {
			return errors.New("db down")
		}))
		r.Wait()
		assert.Contains(t, out.String(), "record_click failed: db down")
	})

	t.Run("panic is recovered", func(t *testing.T) {
		r, out := newTestRunner(4)
		require.True(t, r.Go("boom", func(ctx context.Context) error {
			panic("kaboom")
		}))
		r.Wait()
		assert.Contains(t, out.String(), "boom panicked: kaboom")
	})

	t.Run("task context carries timeout", func(t *testing.T) {
		r, _ := newTestRunner(1)
		var hasDeadline atomic.Bool
		r.Go("deadline", func(ctx context.Context) error {
			_, ok := ctx.Deadline()
			hasDeadline.Store(ok)
			return nil
		})
		r.Wait()
		assert.True(t, hasDeadline.Load())
	})

	t.Run("drops when saturated", func(t *testing.T) {
		r, out := newTestRunner(1)
		release := make(chan struct{})
		require.True(t, r.Go("slow", func(ctx context.Context) error {
			<-release
			return nil
		}))
		assert.False(t, r.Go("extra", func(ctx context.Context) error { return nil }))
		close(release)
		r.Wait()
		assert.Contains(t, out.String(), "extra dropped")
	})

	t.Run("rejects after shutdown", func(t *testing.T) {
		r, _ := newTestRunner(2)
		require.NoError(t, r.Shutdown(context.Background()))
		assert.False(t, r.Go("late", func(ctx context.Context) error { return nil }))
	})

	t.Run("shutdown waits for running tasks", func(t *testing.T) {
		r, _ := newTestRunner(2)
		var finished atomic.Bool
		r.Go("work", func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			finished.Store(true)
			return nil
		})
		require.NoError(t, r.Shutdown(context.Background()))
		assert.True(t, finished.Load())
	})
}
