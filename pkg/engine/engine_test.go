package engine

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

type fakeDevice struct {
	name  string
	err   error
	calls *[]string
}

func (d *fakeDevice) Name() string { return d.name }

func (d *fakeDevice) UpdateValues() error {
	*d.calls = append(*d.calls, d.name)
	return d.err
}

type tickRecorder struct {
	ticks  int
	failed [][]string
}

func (r *tickRecorder) ObserveTick(_ time.Duration, failed []string) {
	r.ticks++
	r.failed = append(r.failed, failed)
}

func TestTickOrder(t *testing.T) {
	var calls []string
	e := New([]Device{
		&fakeDevice{name: "a", calls: &calls},
		&fakeDevice{name: "b", calls: &calls},
		&fakeDevice{name: "c", calls: &calls},
	}, Config{})

	require.NoError(t, e.Tick())
	require.NoError(t, e.Tick())

	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, calls)
	assert.Equal(t, uint64(2), e.Ticks())
	assert.Equal(t, 3, e.Devices())
}

func TestTickContinuesAfterFailure(t *testing.T) {
	var (
		calls []string
		buf   bytes.Buffer
	)
	errA := errors.New("a broke")
	errC := errors.New("c broke")
	rec := &tickRecorder{}

	e := New([]Device{
		&fakeDevice{name: "a", err: errA, calls: &calls},
		&fakeDevice{name: "b", calls: &calls},
		&fakeDevice{name: "c", err: errC, calls: &calls},
	}, Config{
		Logger:   slog.New(slog.NewTextHandler(&buf, nil)),
		Observer: rec,
	})

	err := e.Tick()
	require.Error(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, calls)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errC)
	assert.Len(t, multierr.Errors(err), 2)

	assert.Contains(t, buf.String(), "device=a")
	assert.Contains(t, buf.String(), "device=c")
	assert.NotContains(t, buf.String(), "device=b")

	assert.Equal(t, 1, rec.ticks)
	assert.Equal(t, []string{"a", "c"}, rec.failed[0])
}

func TestTickEmpty(t *testing.T) {
	e := New(nil, Config{})
	assert.NoError(t, e.Tick())
	assert.Equal(t, uint64(1), e.Ticks())
}
