package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "igarchive/pkg/errors"
	"igarchive/pkg/logger"
	"igarchive/pkg/mirror"
	"igarchive/pkg/ui"
)

// recordingBackend is a mirror backend that only records its calls
type recordingBackend struct {
	pushes int
	pulls  int
	err    error
}

func (b *recordingBackend) Name() string { return "recording" }

func (b *recordingBackend) Push(context.Context, string, string) error {
	b.pushes++
	return b.err
}

func (b *recordingBackend) Pull(context.Context, string, string) error {
	b.pulls++
	return b.err
}

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	out := &bytes.Buffer{}
	prev := ui.Output
	ui.Output = out
	t.Cleanup(func() { ui.Output = prev })
	return out
}

func TestFinishSync(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name       string
		ctx        context.Context
		syncErr    error
		push       bool
		backendErr error
		wantPushes int
		wantErr    errs.ErrorType
		wantOutput string
	}{
		{name: "clean pass pushes", ctx: context.Background(), push: true, wantPushes: 1},
		{name: "no-push", ctx: context.Background(), push: false},
		{name: "cancelled pass", ctx: cancelled, push: true},
		{
			name:       "feed error warns and skips push",
			ctx:        context.Background(),
			syncErr:    errs.New(errs.ErrorTypeNetwork, "connection reset"),
			push:       true,
			wantOutput: "Sync ended early",
		},
		{
			name:    "expired session fails the run",
			ctx:     context.Background(),
			syncErr: errs.New(errs.ErrorTypeAuth, "session expired"),
			push:    true,
			wantErr: errs.ErrorTypeAuth,
		},
		{
			name:       "failed push is only a warning",
			ctx:        context.Background(),
			push:       true,
			backendErr: errors.New("bucket gone"),
			wantPushes: 1,
			wantOutput: "Mirror push failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := captureOutput(t)
			backend := &recordingBackend{err: tt.backendErr}
			adapter := mirror.New("remote:ig", backend, logger.NewNopLogger())

			err := finishSync(tt.ctx, adapter, t.TempDir(), tt.syncErr, tt.push)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, errs.Is(err, tt.wantErr))
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantPushes, backend.pushes)
			assert.Zero(t, backend.pulls)
			if tt.wantOutput != "" {
				assert.Contains(t, out.String(), tt.wantOutput)
			}
		})
	}
}

func TestFinishSyncWithoutRemote(t *testing.T) {
	captureOutput(t)
	backend := &recordingBackend{}
	adapter := mirror.New("", backend, logger.NewNopLogger())

	assert.NoError(t, finishSync(context.Background(), adapter, t.TempDir(), nil, true))
	assert.Zero(t, backend.pushes)
}

func TestPrepareArchive(t *testing.T) {
	captureOutput(t)

	t.Run("no remote", func(t *testing.T) {
		backend := &recordingBackend{}
		adapter := mirror.New("", backend, logger.NewNopLogger())
		require.NoError(t, prepareArchive(context.Background(), adapter, t.TempDir()))
		assert.Zero(t, backend.pulls)
	})

	t.Run("existing archive is kept", func(t *testing.T) {
		base := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(base, "alice"), 0755))
		backend := &recordingBackend{}
		adapter := mirror.New("remote:ig", backend, logger.NewNopLogger())

		require.NoError(t, prepareArchive(context.Background(), adapter, base))
		assert.Zero(t, backend.pulls)
	})

	t.Run("missing archive is pulled", func(t *testing.T) {
		backend := &recordingBackend{}
		adapter := mirror.New("remote:ig", backend, logger.NewNopLogger())

		require.NoError(t, prepareArchive(context.Background(), adapter, filepath.Join(t.TempDir(), "archive")))
		assert.Equal(t, 1, backend.pulls)
	})

	t.Run("failed pull is fatal", func(t *testing.T) {
		backend := &recordingBackend{err: errors.New("remote unreachable")}
		adapter := mirror.New("remote:ig", backend, logger.NewNopLogger())

		err := prepareArchive(context.Background(), adapter, t.TempDir())
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.ErrorTypeMirror))
		assert.Equal(t, 1, backend.pulls)
		assert.Zero(t, backend.pushes)
	})
}
