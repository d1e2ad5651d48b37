package transithub

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transithub.dev/transithub/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu        sync.Mutex
	updatedAt map[model.Source]time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{updatedAt: map[model.Source]time.Time{}}
}

func (c *fakeClock) EnsureRegistered(ctx context.Context, src model.Source) error {
	return nil
}

func (c *fakeClock) UpdatedAt(ctx context.Context, src model.Source) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updatedAt[src], nil
}

func (c *fakeClock) Touch(ctx context.Context, src model.Source) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updatedAt[src] = time.Now()
	return nil
}

type fakeStatic struct {
	src     model.Source
	delay   time.Duration
	imports atomic.Int32
	err     error
}

func (f *fakeStatic) Source() model.Source           { return f.src }
func (f *fakeStatic) RefreshInterval() time.Duration { return time.Hour }

func (f *fakeStatic) Import(ctx context.Context) error {
	f.imports.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.err
}

func TestStaticControllerCoalescesConcurrentDemand(t *testing.T) {
	adapter := &fakeStatic{src: model.SourceMtaSubway, delay: 50 * time.Millisecond}
	c := NewStaticController([]StaticAdapter{adapter}, newFakeClock(), nil)
	defer c.Close()

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.EnsureUpdated(context.Background(), model.SourceMtaSubway)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), adapter.imports.Load())
}

func TestStaticControllerSkipsFreshData(t *testing.T) {
	adapter := &fakeStatic{src: model.SourceMtaSubway}
	c := NewStaticController([]StaticAdapter{adapter}, newFakeClock(), nil)
	defer c.Close()

	require.NoError(t, c.EnsureUpdated(context.Background(), model.SourceMtaSubway))
	require.NoError(t, c.EnsureUpdated(context.Background(), model.SourceMtaSubway))

	assert.Equal(t, int32(1), adapter.imports.Load())
}

func TestStaticControllerRefreshForcesImport(t *testing.T) {
	adapter := &fakeStatic{src: model.SourceMtaSubway}
	c := NewStaticController([]StaticAdapter{adapter}, newFakeClock(), nil)
	defer c.Close()

	require.NoError(t, c.EnsureUpdated(context.Background(), model.SourceMtaSubway))
	require.NoError(t, c.Refresh(context.Background(), model.SourceMtaSubway))

	assert.Equal(t, int32(2), adapter.imports.Load())
}

func TestStaticControllerPropagatesImportError(t *testing.T) {
	boom := errors.New("bundle 404")
	adapter := &fakeStatic{src: model.SourceMtaSubway, err: boom}
	c := NewStaticController([]StaticAdapter{adapter}, newFakeClock(), nil)
	defer c.Close()

	err := c.EnsureUpdated(context.Background(), model.SourceMtaSubway)
	assert.ErrorIs(t, err, boom)
}

func TestStaticControllerUnknownSource(t *testing.T) {
	c := NewStaticController(nil, newFakeClock(), nil)
	defer c.Close()

	err := c.EnsureUpdated(context.Background(), model.SourceMtaBus)
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestStaticControllerClose(t *testing.T) {
	adapter := &fakeStatic{src: model.SourceMtaSubway}
	c := NewStaticController([]StaticAdapter{adapter}, newFakeClock(), nil)
	c.Close()

	err := c.EnsureUpdated(context.Background(), model.SourceMtaSubway)
	assert.ErrorIs(t, err, ErrControllerClosed)
}
