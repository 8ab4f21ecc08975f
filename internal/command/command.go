// Package command executes a fixed catalog of read-only diagnostic commands.
// Nothing here ever touches a shell: descriptors carry argv slices and
// parameter values are reduced to [A-Za-z0-9_-] before substitution.
package command

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"pidash/internal/constants"
	"pidash/internal/types"
)

// Descriptor is one whitelisted diagnostic command. Argv elements may contain
// "{name}" slots, which are filled from the allowed parameter set at execution.
type Descriptor struct {
	ID     string
	Argv   []string
	Params []string
}

func (d Descriptor) allowsParam(name string) bool {
	for _, p := range d.Params {
		if p == name {
			return true
		}
	}
	return false
}

// catalog is defined once at startup and never mutated.
var catalog = map[string]Descriptor{
	"cpu_temp": {
		ID:     "cpu_temp",
		Argv:   []string{"cat", "/sys/class/thermal/thermal_zone{zone}/temp"},
		Params: []string{"zone"},
	},
	"gpu_temp": {
		ID:   "gpu_temp",
		Argv: []string{"vcgencmd", "measure_temp"},
	},
	"throttled": {
		ID:   "throttled",
		Argv: []string{"vcgencmd", "get_throttled"},
	},
	"uptime": {
		ID:   "uptime",
		Argv: []string{"cat", "/proc/uptime"},
	},
	"loadavg": {
		ID:   "loadavg",
		Argv: []string{"cat", "/proc/loadavg"},
	},
	"meminfo": {
		ID:   "meminfo",
		Argv: []string{"cat", "/proc/meminfo"},
	},
	"cpustat": {
		ID:   "cpustat",
		Argv: []string{"cat", "/proc/stat"},
	},
	"kernel": {
		ID:   "kernel",
		Argv: []string{"uname", "-r"},
	},
}

type executor func(ctx context.Context, argv []string) ([]byte, error)

type Runner struct {
	timeout time.Duration
	exec    executor
}

func NewRunner() *Runner {
	return &Runner{timeout: constants.CommandTimeout, exec: runArgv}
}

// NewRunnerWithExecutor is for tests that must not spawn real processes.
func NewRunnerWithExecutor(fn func(ctx context.Context, argv []string) ([]byte, error)) *Runner {
	return &Runner{timeout: constants.CommandTimeout, exec: fn}
}

// Sanitize reduces a parameter value to the [A-Za-z0-9_-] character class.
func Sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Execute runs a catalog command and returns its stdout as text.
// Unknown IDs, disallowed parameters, and parameter values containing anything
// outside the safe character class are rejected before any process is spawned.
func (r *Runner) Execute(ctx context.Context, id string, params map[string]string) (string, error) {
	desc, ok := catalog[id]
	if !ok {
		return "", types.Err(types.ErrUnknownCommand, nil, "command %q is not whitelisted", id)
	}

	for name, value := range params {
		if !desc.allowsParam(name) {
			return "", types.Err(types.ErrValidation, nil, "parameter %q not allowed for %q", name, id)
		}
		if Sanitize(value) != value {
			return "", types.Err(types.ErrSecurityViolation, nil, "parameter %q contains disallowed characters", name)
		}
	}

	argv := make([]string, len(desc.Argv))
	for i, elem := range desc.Argv {
		for _, name := range desc.Params {
			slot := "{" + name + "}"
			if strings.Contains(elem, slot) {
				value, ok := params[name]
				if !ok {
					return "", types.Err(types.ErrValidation, nil, "missing parameter %q for %q", name, id)
				}
				elem = strings.ReplaceAll(elem, slot, Sanitize(value))
			}
		}
		argv[i] = elem
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.exec(ctx, argv)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", types.Err(types.ErrTimeout, err, "command %q exceeded %s", id, r.timeout)
		}
		return "", types.Err(types.ErrExternalService, err, "command %q failed", id)
	}

	return string(out), nil
}

func runArgv(ctx context.Context, argv []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &out, n: constants.MaxCommandOutput}
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

type limitedWriter struct {
	w *bytes.Buffer
	n int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.n <= 0 {
		// swallow the rest, the caller still sees a full write
		return len(p), nil
	}
	if len(p) > lw.n {
		lw.w.Write(p[:lw.n])
		lw.n = 0
		return len(p), nil
	}
	lw.n -= len(p)
	return lw.w.Write(p)
}
