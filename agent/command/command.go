// Package command implements the agent's command engine: whitelist
// enforcement, custom-command unpacking, and cross-platform execution with
// bounded output capture and a wall-clock timeout.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/maxwellnie/lan-device-manager/common/protocol"
)

const (
	// DefaultTimeout bounds a command's wall-clock runtime when the request
	// does not specify one.
	DefaultTimeout = 30 * time.Second

	// maxCaptureBytes bounds each captured stream; longer output is
	// truncated and flagged.
	maxCaptureBytes = 1 << 20

	// CustomToken is the whitelist master switch for free-form commands.
	CustomToken = "custom"
)

// DeniedError is returned when a request fails authorization or names an
// unknown verb. The tag selects the HTTP mapping.
type DeniedError struct {
	Tag     protocol.ErrorTag
	Message string
}

func (e *DeniedError) Error() string { return e.Message }

// Whitelist is a point-in-time snapshot of the two sets that jointly
// authorize execution.
type Whitelist struct {
	Commands       []string
	CustomCommands []string
}

func (w Whitelist) hasCommand(name string) bool {
	for _, c := range w.Commands {
		if c == name {
			return true
		}
	}
	return false
}

func (w Whitelist) hasCustom(name string) bool {
	for _, c := range w.CustomCommands {
		if c == name {
			return true
		}
	}
	return false
}

// Executor runs whitelisted commands. WhitelistFunc supplies the current
// whitelist snapshot on every request so config changes apply immediately.
type Executor struct {
	WhitelistFunc func() Whitelist
	Timeout       time.Duration
}

// NewExecutor creates an executor drawing its whitelist from fn.
func NewExecutor(fn func() Whitelist) *Executor {
	return &Executor{WhitelistFunc: fn, Timeout: DefaultTimeout}
}

// Unpack resolves the effective command name and argument list. For the
// "custom" verb the first argument carries the real command; a name that
// embeds spaces ("ping 127.0.0.1") is split into command plus leading args.
func Unpack(command string, args []string) (string, []string) {
	if command == CustomToken {
		if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
			return CustomToken, nil
		}
		parts := strings.Fields(args[0])
		real := parts[0]
		unpacked := append(parts[1:], args[1:]...)
		return real, unpacked
	}

	if strings.Contains(command, " ") {
		parts := strings.Fields(command)
		return parts[0], append(parts[1:], args...)
	}
	return command, args
}

// Authorize applies the whitelist rules from the request's point of view:
// custom is the request verb, real the unpacked command name.
//
//   - verb "custom": permitted iff "custom" is whitelisted AND the real
//     command is itself a whitelisted token or a saved custom command.
//   - otherwise: the command must be whitelisted directly, and must be a
//     verb the engine knows (unknown verbs are a client error, not a
//     policy decision).
func (e *Executor) Authorize(requestVerb, real string) error {
	wl := e.WhitelistFunc()

	if requestVerb == CustomToken {
		if real == CustomToken {
			return &DeniedError{Tag: protocol.ErrBadRequest, Message: "custom command missing command name"}
		}
		if !wl.hasCommand(CustomToken) {
			return &DeniedError{Tag: protocol.ErrCommandNotAllowed,
				Message: "custom commands are disabled"}
		}
		if !wl.hasCommand(real) && !wl.hasCustom(real) {
			return &DeniedError{Tag: protocol.ErrCommandNotAllowed,
				Message: fmt.Sprintf("command %q is not in the whitelist", real)}
		}
		return nil
	}

	if !wl.hasCommand(real) {
		return &DeniedError{Tag: protocol.ErrCommandNotAllowed,
			Message: fmt.Sprintf("command %q is not in the whitelist", real)}
	}
	if !isBuiltin(real) {
		return &DeniedError{Tag: protocol.ErrBadRequest,
			Message: fmt.Sprintf("unknown command %q", real)}
	}
	return nil
}

// Execute authorizes and runs a request, returning the result or a
// *DeniedError. Subprocess failures (non-zero exit) are results, not errors.
func (e *Executor) Execute(ctx context.Context, requestVerb string, args []string, timeoutMs int64) (protocol.CommandResult, error) {
	real, realArgs := Unpack(requestVerb, args)
	if err := e.Authorize(requestVerb, real); err != nil {
		return protocol.CommandResult{}, err
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}

	// A custom request goes through the built-in table only when its real
	// command is a whitelisted built-in; a saved custom command runs as named.
	var argv []string
	if requestVerb != CustomToken || (isBuiltin(real) && e.WhitelistFunc().hasCommand(real)) {
		builtin, ok := builtinArgv(real, realArgs)
		if !ok {
			return protocol.CommandResult{}, &DeniedError{Tag: protocol.ErrBadRequest,
				Message: fmt.Sprintf("command %q is not supported on this platform", real)}
		}
		argv = builtin
	} else {
		argv = customArgv(real, realArgs)
	}

	return e.run(ctx, argv, timeout), nil
}

// run spawns the process and captures its output. The argument vector is
// passed without shell interpretation except where the platform table says
// otherwise.
func (e *Executor) run(ctx context.Context, argv []string, timeout time.Duration) protocol.CommandResult {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	stdout := newLimitBuffer(maxCaptureBytes)
	stderr := newLimitBuffer(maxCaptureBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	configureSysProc(cmd)

	err := cmd.Run()
	elapsed := time.Since(start).Milliseconds()

	result := protocol.CommandResult{
		Stdout:          decodeOutput(stdout.Bytes()),
		Stderr:          decodeOutput(stderr.Bytes()),
		ExecutionTimeMs: elapsed,
		Truncated:       stdout.Truncated() || stderr.Truncated(),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = nil
		if result.Stderr != "" {
			result.Stderr += "\n"
		}
		result.Stderr += fmt.Sprintf("command timed out after %s", timeout)
		return result
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			result.ExitCode = &code
			return result
		}
		// Spawn failure: no process ran.
		if result.Stderr != "" {
			result.Stderr += "\n"
		}
		result.Stderr += fmt.Sprintf("execution error: %v", err)
		code := -1
		result.ExitCode = &code
		return result
	}

	code := 0
	result.ExitCode = &code
	result.Success = true
	return result
}

// limitBuffer captures at most max bytes and records overflow.
type limitBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newLimitBuffer(max int) *limitBuffer {
	return &limitBuffer{max: max}
}

func (b *limitBuffer) Write(p []byte) (int, error) {
	remaining := b.max - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *limitBuffer) Bytes() []byte { return b.buf.Bytes() }

func (b *limitBuffer) Truncated() bool { return b.truncated }
