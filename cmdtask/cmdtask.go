// Package cmdtask runs external commands as the work of jobq tasks.
package cmdtask

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/imagvfx/jobq"
	"github.com/mattn/go-shellwords"
)

// maxErrOutput is how much of a failed command's output is kept in its error.
const maxErrOutput = 1 << 10

// Runner runs commands one by one.
type Runner struct {
	// Dir is the working directory of commands.
	// Empty Dir means the current directory of the process.
	Dir string
	// Env is added to the environment of commands.
	Env []string
	// Output receives combined output of each finished command.
	// It could be nil.
	Output func(cmd []string, out []byte)
}

// Work returns a WorkFunc that runs cmds in order.
// It stops at the first failed command. A running command is killed
// when the task is interrupted, and subsequent commands are not launched.
func (r *Runner) Work(cmds [][]string) jobq.WorkFunc {
	cmds = append([][]string(nil), cmds...)
	return func(ctx context.Context, rep jobq.Reporter) (interface{}, error) {
		for i, cmd := range cmds {
			if len(cmd) == 0 {
				return nil, fmt.Errorf("command %d is empty", i)
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rep.ReportStatus("running: " + strings.Join(cmd, " "))
			out, err := r.run(ctx, cmd)
			if r.Output != nil {
				r.Output(cmd, out)
			}
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, &CommandError{Args: cmd, Err: err, Output: tail(out)}
			}
			rep.ReportProgress(float64(i+1) / float64(len(cmds)))
		}
		return len(cmds), nil
	}
}

func (r *Runner) run(ctx context.Context, cmd []string) ([]byte, error) {
	c := exec.CommandContext(ctx, cmd[0], cmd[1:]...)
	c.Dir = r.Dir
	if len(r.Env) != 0 {
		c.Env = append(c.Environ(), r.Env...)
	}
	return c.CombinedOutput()
}

// Work runs cmds with a default Runner.
func Work(cmds ...[]string) jobq.WorkFunc {
	r := &Runner{}
	return r.Work(cmds)
}

// CommandError is a failed command.
type CommandError struct {
	Args []string
	Err  error
	// Output is the last part of the command's output.
	Output string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q failed: %v", strings.Join(e.Args, " "), e.Err)
	if e.Output != "" {
		msg += "\n" + e.Output
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func tail(out []byte) string {
	out = bytes.TrimSpace(out)
	if len(out) > maxErrOutput {
		out = out[len(out)-maxErrOutput:]
	}
	return string(out)
}

// Parse splits a command line into arguments, the way a shell does
// without expanding variables or backquotes.
func Parse(line string) ([]string, error) {
	args, err := shellwords.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("%v: %q", err, line)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return args, nil
}
