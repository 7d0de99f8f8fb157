// Package mirror copies the archive root to and from a remote blob store.
//
// Mirroring is optional. Without a configured remote, Push is a no-op and
// Pull fails with ErrNoRemote. Every backend failure is reported as an
// errors.ErrorTypeMirror error so callers can log it and carry on.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"igarchive/pkg/config"
	errs "igarchive/pkg/errors"
	"igarchive/pkg/logger"
)

// ErrNoRemote is returned by Pull when no remote is configured
var ErrNoRemote = errors.New("no mirror remote configured (set " + config.MirrorRemoteEnv + ")")

// Backend moves a local directory tree to or from a remote location
type Backend interface {
	Push(ctx context.Context, localDir, remote string) error
	Pull(ctx context.Context, remote, localDir string) error
	Name() string
}

// Recorder counts mirror operations by result
type Recorder interface {
	ObserveMirror(op, result string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveMirror(string, string) {}

// Result describes one mirror operation
type Result struct {
	Op       string
	Backend  string
	Remote   string
	Skipped  bool
	Duration time.Duration
}

// Adapter binds a remote to the backend serving it
type Adapter struct {
	remote   string
	backend  Backend
	recorder Recorder
	logger   logger.Logger
}

// New creates an Adapter. An empty remote disables mirroring.
func New(remote string, backend Backend, log logger.Logger) *Adapter {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Adapter{
		remote:   strings.TrimSpace(remote),
		backend:  backend,
		recorder: nopRecorder{},
		logger:   log,
	}
}

// SetRecorder routes operation counts to r
func (a *Adapter) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	a.recorder = r
}

// Enabled reports whether a remote is configured
func (a *Adapter) Enabled() bool { return a.remote != "" }

// Remote returns the configured remote, or ""
func (a *Adapter) Remote() string { return a.remote }

// Push copies localDir to the remote. Without a remote it reports a
// skipped result and no error.
func (a *Adapter) Push(ctx context.Context, localDir string) (Result, error) {
	res := Result{Op: "push", Remote: a.remote}
	if !a.Enabled() {
		a.logger.Debug("no mirror remote configured, skipping push")
		res.Skipped = true
		a.recorder.ObserveMirror(res.Op, "skipped")
		return res, nil
	}
	return a.run(ctx, res, func() error { return a.backend.Push(ctx, localDir, a.remote) })
}

// Pull copies the remote into localDir. Without a remote it fails with
// ErrNoRemote.
func (a *Adapter) Pull(ctx context.Context, localDir string) (Result, error) {
	res := Result{Op: "pull", Remote: a.remote}
	if !a.Enabled() {
		a.recorder.ObserveMirror(res.Op, "error")
		return res, errs.Wrap(ErrNoRemote, errs.ErrorTypeMirror, "cannot pull")
	}
	return a.run(ctx, res, func() error { return a.backend.Pull(ctx, a.remote, localDir) })
}

func (a *Adapter) run(ctx context.Context, res Result, op func() error) (Result, error) {
	res.Backend = a.backend.Name()
	log := a.logger.WithFields(map[string]interface{}{
		"op":      res.Op,
		"backend": res.Backend,
		"remote":  res.Remote,
	})
	log.Info("mirror started")

	start := time.Now()
	err := op()
	res.Duration = time.Since(start)

	if err != nil {
		a.recorder.ObserveMirror(res.Op, "error")
		log.WithError(err).Error("mirror failed")
		return res, errs.Wrap(err, errs.ErrorTypeMirror, fmt.Sprintf("%s via %s failed", res.Op, res.Backend))
	}
	a.recorder.ObserveMirror(res.Op, "ok")
	log.InfoWithFields("mirror finished", map[string]interface{}{"duration": res.Duration})
	return res, nil
}

// Remote is a parsed remote location
type Remote struct {
	// Scheme is "s3", "rclone" (name:path) or "local"
	Scheme string
	Bucket string
	Prefix string
}

// ParseRemote splits a remote into scheme, bucket and prefix.
// "s3://bucket/a/b" yields (s3, bucket, a/b); "gdrive:backups/ig"
// yields (rclone, gdrive, backups/ig); anything else is a local path.
func ParseRemote(remote string) (Remote, error) {
	remote = strings.TrimSpace(remote)
	if remote == "" {
		return Remote{}, ErrNoRemote
	}

	if strings.HasPrefix(strings.ToLower(remote), "s3://") {
		u, err := url.Parse(remote)
		if err != nil {
			return Remote{}, fmt.Errorf("invalid s3 remote %q: %w", remote, err)
		}
		if u.Host == "" {
			return Remote{}, fmt.Errorf("s3 remote %q has no bucket", remote)
		}
		return Remote{Scheme: "s3", Bucket: u.Host, Prefix: strings.Trim(u.Path, "/")}, nil
	}

	// A single-letter "name" is a Windows drive, not an rclone remote.
	if i := strings.Index(remote, ":"); i > 1 && !strings.ContainsAny(remote[:i], `/\`) {
		return Remote{Scheme: "rclone", Bucket: remote[:i], Prefix: strings.Trim(remote[i+1:], "/")}, nil
	}
	return Remote{Scheme: "local", Prefix: remote}, nil
}

// NewFromConfig builds the adapter described by cfg. The S3 client is only
// created when the selected backend needs it.
func NewFromConfig(ctx context.Context, cfg config.MirrorConfig, log logger.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Remote) == "" {
		return New("", nil, log), nil
	}

	remote, err := ParseRemote(cfg.Remote)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeSetup, "bad mirror remote")
	}
	merge := strings.EqualFold(cfg.Mode, "merge")

	backend := strings.ToLower(cfg.Backend)
	if backend == "" || backend == "auto" {
		backend = "rclone"
		if remote.Scheme == "s3" {
			backend = "s3"
		}
	}

	switch backend {
	case "s3":
		if remote.Scheme != "s3" {
			return nil, errs.New(errs.ErrorTypeSetup, fmt.Sprintf("s3 backend needs an s3:// remote, got %q", cfg.Remote))
		}
		client, err := NewS3Client(ctx, cfg.S3Region, cfg.S3Endpoint)
		if err != nil {
			return nil, errs.Wrap(err, errs.ErrorTypeSetup, "cannot configure s3 client")
		}
		return New(cfg.Remote, NewS3Backend(client, merge, log), log), nil
	case "rclone":
		return New(cfg.Remote, NewRcloneBackend(cfg.Tool, cfg.ToolArgs, merge, log), log), nil
	default:
		return nil, errs.New(errs.ErrorTypeSetup, fmt.Sprintf("unknown mirror backend %q", cfg.Backend))
	}
}
