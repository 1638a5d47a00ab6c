package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopRefresher struct{}

func (noopRefresher) Refresh(context.Context, bool) bool { return true }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStartAlignedMode(t *testing.T) {
	s := New(noopRefresher{}, "1,21,41", 0, time.UTC, testLogger())
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}

func TestStartIntervalMode(t *testing.T) {
	s := New(noopRefresher{}, "", 10*time.Minute, nil, testLogger())
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}

func TestStartRejectsBadCronSpec(t *testing.T) {
	s := New(noopRefresher{}, "not-a-minute", 0, time.UTC, testLogger())
	err := s.Start(context.Background())
	assert.Error(t, err)
	s.Stop()
}
