package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cadops/cadet/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubNotifier replays a fixed sequence of events and then closes
type stubNotifier struct {
	ch chan Event
}

func newStubNotifier(archives ...string) *stubNotifier {
	n := &stubNotifier{ch: make(chan Event, len(archives))}
	for _, a := range archives {
		n.ch <- Event{Archive: a, At: time.Now()}
	}
	close(n.ch)
	return n
}

func (n *stubNotifier) Events() <-chan Event { return n.ch }

func (n *stubNotifier) Close() error { return nil }

type exportRecorder struct {
	mu   sync.Mutex
	runs map[string]int
	err  error
}

func (r *exportRecorder) export(_ context.Context, archive string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs == nil {
		r.runs = make(map[string]int)
	}
	r.runs[archive]++
	return r.err
}

func (r *exportRecorder) count(archive string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[archive]
}

func TestExporterRunsEverySavedArchive(t *testing.T) {
	rec := &exportRecorder{}
	exp := NewExporter(newStubNotifier("/a.FCStd", "/b.FCStd"), rec.export)

	require.NoError(t, exp.Run(context.Background()))
	assert.Equal(t, 1, rec.count("/a.FCStd"))
	assert.Equal(t, 1, rec.count("/b.FCStd"))
}

func TestExporterFoldsBurstsPerArchive(t *testing.T) {
	rec := &exportRecorder{}
	exp := NewExporter(newStubNotifier("/a.FCStd", "/a.FCStd", "/a.FCStd"), rec.export)

	require.NoError(t, exp.Run(context.Background()))
	// at least one export ran, and a burst never amplifies beyond the
	// number of saves
	n := rec.count("/a.FCStd")
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 3)
}

func TestExporterSurvivesExportFailure(t *testing.T) {
	rec := &exportRecorder{err: errors.New("disk full")}
	exp := NewExporter(newStubNotifier("/a.FCStd", "/b.FCStd"), rec.export)

	require.NoError(t, exp.Run(context.Background()))
	assert.Equal(t, 1, rec.count("/a.FCStd"))
	assert.Equal(t, 1, rec.count("/b.FCStd"))
}

func TestExporterStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := &stubNotifier{ch: make(chan Event)} // never delivers
	exp := NewExporter(n, (&exportRecorder{}).export)
	err := exp.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestOptionsWithDefaults(t *testing.T) {
	o, err := Options{}.withDefaults()
	require.NoError(t, err)
	assert.Equal(t, defaultOptions.QuietPeriod, o.QuietPeriod)
	assert.Equal(t, defaultOptions.MinGap, o.MinGap)
	assert.Equal(t, defaultOptions.Burst, o.Burst)
	assert.NotNil(t, o.Logger)

	o, err = Options{QuietPeriod: time.Second}.withDefaults()
	require.NoError(t, err)
	assert.Equal(t, time.Second, o.QuietPeriod)
	assert.Equal(t, defaultOptions.MinGap, o.MinGap)

	_, err = Options{QuietPeriod: -time.Second}.withDefaults()
	require.Error(t, err)
}
