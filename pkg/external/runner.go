// Package external invokes the image-processing toolkits the pipeline
// delegates to. Every collaborator is an opaque command that either writes a
// named artifact or exits with a non-zero status.
package external

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// maxOutput bounds the tool output kept on a ToolError
const maxOutput = 4096

// Runner runs one external command to completion
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ToolError reports a collaborator that exited with a failure status.
// It is fatal to the run.
type ToolError struct {
	Tool   string
	Args   []string
	Output string
	Err    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Tool, strings.Join(e.Args, " "), e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// ExecRunner runs commands with os/exec and forwards their output to the log
type ExecRunner struct {
	// Dir is the working directory, the current one when empty
	Dir string

	// Env is appended to the process environment
	Env []string

	Log zerolog.Logger
}

// NewExecRunner creates a runner logging through log
func NewExecRunner(log zerolog.Logger) *ExecRunner {
	return &ExecRunner{Log: log}
}

// Run implements Runner
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	r.Log.Debug().Str("tool", name).Strs("args", args).Msg("running")
	err := cmd.Run()

	scanner := bufio.NewScanner(bytes.NewReader(out.Bytes()))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			r.Log.Trace().Str("tool", name).Msg(line)
		}
	}

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ToolError{Tool: name, Args: args, Output: tail(out.String(), maxOutput), Err: err}
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
