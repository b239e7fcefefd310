// Package execx runs the external tools the scanner pipeline wraps
// (ffprobe, ffmpeg, colmap) with output capture, retry, and capability
// probing.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Result holds the captured output of one command execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// UnavailableError reports a tool that is not installed or not on PATH.
// Guidance tells the operator how to fix it.
type UnavailableError struct {
	Tool     string
	Guidance string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s is not installed or not on PATH. %s", e.Tool, e.Guidance)
}

// IsUnavailable reports whether err marks a missing tool capability.
func IsUnavailable(err error) bool {
	var unavailable *UnavailableError
	return errors.As(err, &unavailable)
}

// Options configures one execution.
type Options struct {
	WorkingDir string
	Env        map[string]string

	// Writers receive output as it streams, in addition to capture.
	StdoutWriter io.Writer
	StderrWriter io.Writer

	MaxRetries int
	RetryDelay time.Duration
}

// Option mutates Options.
type Option func(*Options)

// WithWorkingDir sets the command working directory.
func WithWorkingDir(dir string) Option {
	return func(o *Options) { o.WorkingDir = dir }
}

// WithEnv appends environment variables to the inherited environment.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = map[string]string{}
		}
		for k, v := range env {
			o.Env[k] = v
		}
	}
}

// WithOutputWriter streams stdout and stderr to w (typically a stage log
// file) while still capturing them.
func WithOutputWriter(w io.Writer) Option {
	return func(o *Options) {
		o.StdoutWriter = w
		o.StderrWriter = w
	}
}

// WithRetry retries failed executions up to maxRetries times.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(o *Options) {
		o.MaxRetries = maxRetries
		o.RetryDelay = delay
	}
}

// Executor runs external commands. The pipeline depends on this
// interface so tests can substitute stub binaries or fakes.
type Executor interface {
	Execute(ctx context.Context, program string, args []string, opts ...Option) (*Result, error)
	Probe(program string) error
}

// CommandExecutor is the os/exec-backed Executor.
type CommandExecutor struct {
	// LookPath overrides capability probing in tests. Nil uses exec.LookPath.
	LookPath func(file string) (string, error)

	// Guidance maps a tool name to remediation text for UnavailableError.
	Guidance map[string]string
}

// New returns an executor with the default tool guidance table.
func New() *CommandExecutor {
	return &CommandExecutor{
		Guidance: map[string]string{
			"colmap":  "Install COLMAP (https://colmap.github.io/) and retry.",
			"ffmpeg":  "Install ffmpeg (https://ffmpeg.org/download.html) and retry.",
			"ffprobe": "Install ffmpeg (ffprobe ships with it) and retry.",
		},
	}
}

// Probe verifies the program can be resolved on PATH.
func (e *CommandExecutor) Probe(program string) error {
	look := e.LookPath
	if look == nil {
		look = exec.LookPath
	}
	if _, err := look(program); err != nil {
		guidance := e.Guidance[program]
		if guidance == "" {
			guidance = "Install it and ensure it is on PATH."
		}
		return &UnavailableError{Tool: program, Guidance: guidance}
	}
	return nil
}

// Execute runs the program once per attempt until it succeeds or retries
// are exhausted. A missing binary is reported as UnavailableError without
// spawning a process.
func (e *CommandExecutor) Execute(ctx context.Context, program string, args []string, opts ...Option) (*Result, error) {
	if err := e.Probe(program); err != nil {
		return nil, err
	}
	options := Options{}
	for _, opt := range opts {
		opt(&options)
	}

	attempts := options.MaxRetries + 1
	var result *Result
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = e.executeOnce(ctx, program, args, options)
		if err == nil || attempt == attempts {
			return result, err
		}
		select {
		case <-ctx.Done():
			return result, fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(options.RetryDelay):
		}
	}
	return result, err
}

func (e *CommandExecutor) executeOnce(ctx context.Context, program string, args []string, options Options) (*Result, error) {
	cmd := exec.CommandContext(ctx, program, args...)
	if options.WorkingDir != "" {
		cmd.Dir = options.WorkingDir
	}
	if len(options.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range options.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if options.StdoutWriter != nil {
		cmd.Stdout = io.MultiWriter(&stdout, options.StdoutWriter)
	}
	if options.StderrWriter != nil {
		cmd.Stderr = io.MultiWriter(&stderr, options.StderrWriter)
	}

	runErr := cmd.Run()
	result := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		result.ExitCode = 0
	case errors.As(runErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		result.ExitCode = -1
	}
	if runErr != nil {
		return result, fmt.Errorf("%s %s: %w", program, strings.Join(args, " "), runErr)
	}
	return result, nil
}
