package mirror

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"igarchive/pkg/logger"
)

// tempFilePattern keeps in-flight atomic writes out of the remote
const tempFilePattern = ".*.tmp-*"

// RcloneBackend shells out to rclone, or any tool with the same
// "<verb> [flags] <src> <dst>" calling convention.
type RcloneBackend struct {
	binary string
	args   []string
	merge  bool
	logger logger.Logger
}

// NewRcloneBackend uses "rclone sync", or "rclone copy" when merge is set
func NewRcloneBackend(binary string, args []string, merge bool, log logger.Logger) *RcloneBackend {
	if binary == "" {
		binary = "rclone"
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &RcloneBackend{binary: binary, args: args, merge: merge, logger: log}
}

func (b *RcloneBackend) Name() string { return "rclone" }

func (b *RcloneBackend) Push(ctx context.Context, localDir, remote string) error {
	return b.run(ctx, localDir, remote)
}

func (b *RcloneBackend) Pull(ctx context.Context, remote, localDir string) error {
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", localDir, err)
	}
	return b.run(ctx, remote, localDir)
}

func (b *RcloneBackend) verb() string {
	if b.merge {
		return "copy"
	}
	return "sync"
}

func (b *RcloneBackend) run(ctx context.Context, src, dst string) error {
	args := []string{b.verb()}
	args = append(args, b.args...)
	args = append(args, "--exclude", tempFilePattern, src, dst)

	b.logger.DebugWithFields("running mirror tool", map[string]interface{}{
		"tool": b.binary,
		"args": strings.Join(args, " "),
	})

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, b.binary, args...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s %s: %w: %s", b.binary, args[0], err, lastLine(msg))
		}
		return fmt.Errorf("%s %s: %w", b.binary, args[0], err)
	}
	return nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
