package mirror_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igarchive/pkg/config"
	errs "igarchive/pkg/errors"
	"igarchive/pkg/logger"
	"igarchive/pkg/mirror"
)

type fakeBackend struct {
	pushes []string
	pulls  []string
	err    error
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Push(_ context.Context, localDir, remote string) error {
	f.pushes = append(f.pushes, localDir+"->"+remote)
	return f.err
}

func (f *fakeBackend) Pull(_ context.Context, remote, localDir string) error {
	f.pulls = append(f.pulls, remote+"->"+localDir)
	return f.err
}

type opCounter map[string]int

func (c opCounter) ObserveMirror(op, result string) { c[op+":"+result]++ }

func TestAdapter_PushWithoutRemoteIsNoop(t *testing.T) {
	backend := &fakeBackend{}
	a := mirror.New("  ", backend, logger.NewNopLogger())
	ops := opCounter{}
	a.SetRecorder(ops)

	res, err := a.Push(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.False(t, a.Enabled())
	assert.Empty(t, backend.pushes)
	assert.Equal(t, 1, ops["push:skipped"])
}

func TestAdapter_PullWithoutRemoteFails(t *testing.T) {
	a := mirror.New("", &fakeBackend{}, logger.NewNopLogger())

	_, err := a.Pull(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, mirror.ErrNoRemote)
	assert.True(t, errs.Is(err, errs.ErrorTypeMirror))
}

func TestAdapter_DelegatesToBackend(t *testing.T) {
	backend := &fakeBackend{}
	a := mirror.New("remote:ig", backend, logger.NewNopLogger())
	ops := opCounter{}
	a.SetRecorder(ops)

	res, err := a.Push(context.Background(), "/archive")
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, "fake", res.Backend)

	_, err = a.Pull(context.Background(), "/archive")
	require.NoError(t, err)

	assert.Equal(t, []string{"/archive->remote:ig"}, backend.pushes)
	assert.Equal(t, []string{"remote:ig->/archive"}, backend.pulls)
	assert.Equal(t, 1, ops["push:ok"])
	assert.Equal(t, 1, ops["pull:ok"])
}

func TestAdapter_BackendFailureIsMirrorError(t *testing.T) {
	boom := errors.New("network unreachable")
	log := logger.NewTestLogger()
	a := mirror.New("remote:ig", &fakeBackend{err: boom}, log)

	_, err := a.Push(context.Background(), "/archive")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, errs.Is(err, errs.ErrorTypeMirror))
	assert.True(t, log.HasError())
}

func TestParseRemote(t *testing.T) {
	tests := []struct {
		in      string
		want    mirror.Remote
		wantErr bool
	}{
		{in: "s3://bucket", want: mirror.Remote{Scheme: "s3", Bucket: "bucket"}},
		{in: "s3://bucket/ig/archive/", want: mirror.Remote{Scheme: "s3", Bucket: "bucket", Prefix: "ig/archive"}},
		{in: "S3://bucket/x", want: mirror.Remote{Scheme: "s3", Bucket: "bucket", Prefix: "x"}},
		{in: "gdrive:backups/ig", want: mirror.Remote{Scheme: "rclone", Bucket: "gdrive", Prefix: "backups/ig"}},
		{in: "/mnt/backup", want: mirror.Remote{Scheme: "local", Prefix: "/mnt/backup"}},
		{in: "s3:///nobucket", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := mirror.ParseRemote(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()
	log := logger.NewNopLogger()

	a, err := mirror.NewFromConfig(ctx, config.MirrorConfig{}, log)
	require.NoError(t, err)
	assert.False(t, a.Enabled())

	a, err = mirror.NewFromConfig(ctx, config.MirrorConfig{Remote: "gdrive:ig", Backend: "auto"}, log)
	require.NoError(t, err)
	assert.True(t, a.Enabled())
	assert.Equal(t, "gdrive:ig", a.Remote())

	_, err = mirror.NewFromConfig(ctx, config.MirrorConfig{Remote: "gdrive:ig", Backend: "s3"}, log)
	assert.True(t, errs.Is(err, errs.ErrorTypeSetup))

	_, err = mirror.NewFromConfig(ctx, config.MirrorConfig{Remote: "gdrive:ig", Backend: "ftp"}, log)
	assert.True(t, errs.Is(err, errs.ErrorTypeSetup))
}

// fakeTool writes a script standing in for rclone that records its
// arguments and exits with $FAKE_EXIT.
func fakeTool(t *testing.T) (bin, argsFile string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script tool")
	}
	dir := t.TempDir()
	bin = filepath.Join(dir, "fake-rclone")
	argsFile = filepath.Join(dir, "args")
	script := "#!/bin/sh\necho \"$@\" >> \"" + argsFile + "\"\nif [ -n \"$FAKE_EXIT\" ]; then echo \"transfer failed: quota\" >&2; exit $FAKE_EXIT; fi\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0755))
	return bin, argsFile
}

func readArgs(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestRcloneBackend_SyncAndCopy(t *testing.T) {
	bin, argsFile := fakeTool(t)
	local := t.TempDir()

	mirrorMode := mirror.NewRcloneBackend(bin, []string{"--fast-list"}, false, logger.NewNopLogger())
	require.NoError(t, mirrorMode.Push(context.Background(), local, "remote:ig"))

	pullDir := filepath.Join(t.TempDir(), "fresh")
	mergeMode := mirror.NewRcloneBackend(bin, nil, true, logger.NewNopLogger())
	require.NoError(t, mergeMode.Pull(context.Background(), "remote:ig", pullDir))
	assert.DirExists(t, pullDir)

	lines := readArgs(t, argsFile)
	require.Len(t, lines, 2)
	assert.Equal(t, "sync --fast-list --exclude .*.tmp-* "+local+" remote:ig", lines[0])
	assert.Equal(t, "copy --exclude .*.tmp-* remote:ig "+pullDir, lines[1])
}

func TestRcloneBackend_FailureCarriesStderr(t *testing.T) {
	bin, _ := fakeTool(t)
	t.Setenv("FAKE_EXIT", "3")

	b := mirror.NewRcloneBackend(bin, nil, false, logger.NewNopLogger())
	err := b.Push(context.Background(), t.TempDir(), "remote:ig")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transfer failed: quota")
}

func TestRcloneBackend_MissingBinary(t *testing.T) {
	b := mirror.NewRcloneBackend(filepath.Join(t.TempDir(), "nope"), nil, false, logger.NewNopLogger())
	assert.Error(t, b.Push(context.Background(), t.TempDir(), "remote:ig"))
}
