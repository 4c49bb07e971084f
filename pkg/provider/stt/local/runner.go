package local

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// CommandResult captures one finished subprocess.
type CommandResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes an external command. It exists so tests can substitute
// the engine binary.
type Runner interface {
	Run(ctx context.Context, env []string, name string, args ...string) (CommandResult, error)
}

// ExecRunner runs commands with os/exec. Cancelling ctx kills the process.
type ExecRunner struct{}

// Run executes one command and captures stdout, stderr and the exit code.
// A non-zero exit is reported as an *exec.ExitError alongside the captured
// output.
func (ExecRunner) Run(ctx context.Context, env []string, name string, args ...string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(env) > 0 {
		cmd.Env = append(cmd.Environ(), env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := CommandResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		return res, err
	}
	return res, nil
}
