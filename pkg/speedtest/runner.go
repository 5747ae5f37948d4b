package speedtest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind classifies an invocation failure.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindNonZeroExit Kind = "non_zero_exit"
	KindNotFound    Kind = "not_found"
	KindParse       Kind = "parse"
)

// RunError reports a failed speedtest invocation.
type RunError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *RunError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("speedtest %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("speedtest %s: %s", e.Kind, e.Msg)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

const versionCheckTimeout = 10 * time.Second

// Runner invokes the speedtest binary as a subprocess. Exactly one
// subprocess is spawned per Run call; retries and caching are the
// caller's concern.
type Runner struct {
	binary   string
	serverID string
	timeout  time.Duration
	logger   *slog.Logger
}

func NewRunner(binary, serverID string, timeout time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		binary:   binary,
		serverID: serverID,
		timeout:  timeout,
		logger:   logger,
	}
}

// Validate checks at startup that the configured binary exists and is
// the official Ookla CLI. A missing binary cannot self-heal at request
// time, so callers should treat this error as fatal.
func (r *Runner) Validate(ctx context.Context) error {
	if _, err := exec.LookPath(r.binary); err != nil {
		return &RunError{
			Kind: KindNotFound,
			Msg:  fmt.Sprintf("%s not found, install it from https://www.speedtest.net/apps/cli", r.binary),
			Err:  err,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, versionCheckTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, r.binary, "--version").Output()
	if err != nil {
		return &RunError{Kind: KindNonZeroExit, Msg: "version check failed", Err: err}
	}
	if !strings.Contains(string(out), "Speedtest by Ookla") {
		return &RunError{
			Kind: KindNonZeroExit,
			Msg:  "non-official speedtest CLI detected, install the official version from https://www.speedtest.net/apps/cli",
		}
	}

	r.logger.Info("speedtest CLI validated", "version", strings.TrimSpace(string(out)))
	return nil
}

// Run executes one measurement under a hard wall-clock deadline. The
// subprocess is killed on expiry.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	runID := uuid.New().String()

	args := []string{"--format=json", "--progress=no", "--accept-license", "--accept-gdpr"}
	if r.serverID != "" {
		args = append(args, "--server-id", r.serverID)
	}

	r.logger.Info("running speedtest",
		"runID", runID,
		"binary", r.binary,
		"serverID", orAuto(r.serverID),
		"timeout", r.timeout)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// The CLI may leave children holding our pipes; don't let Wait
	// hang past the kill.
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	switch {
	case err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, &RunError{
			Kind: KindTimeout,
			Msg:  fmt.Sprintf("timed out after %s", r.timeout),
		}
	case errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist):
		return nil, &RunError{
			Kind: KindNotFound,
			Msg:  fmt.Sprintf("%s not found", r.binary),
			Err:  err,
		}
	case err != nil:
		msg := "exited with failure"
		if toolMsg := toolError(stdout.Bytes()); toolMsg != "" {
			msg = toolMsg
		} else if s := strings.TrimSpace(stderr.String()); s != "" {
			msg = s
		}
		return nil, &RunError{Kind: KindNonZeroExit, Msg: msg, Err: err}
	}

	res, err := ParseResult(stdout.Bytes())
	if err != nil {
		return nil, &RunError{Kind: KindParse, Msg: "unusable output", Err: err}
	}
	res.MeasuredAt = time.Now()
	res.Success = true

	r.logger.Info("speedtest completed",
		"runID", runID,
		"serverID", res.ServerID,
		"pingMs", res.PingMs,
		"jitterMs", res.JitterMs,
		"downloadMbps", res.DownloadMbps(),
		"uploadMbps", res.UploadMbps())

	return res, nil
}

// toolError extracts the error message from the JSON blob the CLI
// writes to stdout on some failures.
func toolError(raw []byte) string {
	var blob struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &blob); err != nil {
		return ""
	}
	return blob.Error
}

func orAuto(serverID string) string {
	if serverID == "" {
		return "auto"
	}
	return serverID
}
