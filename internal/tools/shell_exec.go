package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/santosobot/santoso/internal/paths"
)

const (
	maxCommandLength = 1000
	maxShellOutput   = 50000
	maxShellTimeout  = 10 * time.Minute
)

// defaultDeniedPatterns block commands that destroy the host.
var defaultDeniedPatterns = []string{
	`\brm\s+-[a-z]*r[a-z]*f?[a-z]*\s+/(\s|\*|$)`,
	`\brm\s+-[a-z]*f[a-z]*r[a-z]*\s+/(\s|\*|$)`,
	`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`,
	`\bmkfs(\.[a-z0-9]+)?\b`,
	`\bdd\s+if=`,
	`>\s*/dev/sd[a-z]`,
	`\b(shutdown|reboot|poweroff|halt)\b`,
	`\bchmod\s+-R\s+777\s+/(\s|$)`,
}

// ShellExecConfig configures the shell executor.
type ShellExecConfig struct {
	// Resolver supplies the working directory and, when restricted,
	// rejects commands that reference paths outside the workspace.
	Resolver *paths.Resolver
	// DeniedPatterns are regular expressions added to the defaults.
	DeniedPatterns []string
	DefaultTimeout time.Duration
	Logger         *slog.Logger
}

// ShellExec runs shell commands for the agent.
type ShellExec struct {
	resolver       *paths.Resolver
	denied         []*regexp.Regexp
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// NewShellExec creates a shell executor. Invalid extra patterns are
// reported as an error.
func NewShellExec(cfg ShellExecConfig) (*ShellExec, error) {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &ShellExec{
		resolver:       cfg.Resolver,
		defaultTimeout: cfg.DefaultTimeout,
		logger:         cfg.Logger.With("component", "exec"),
	}
	for _, p := range append(append([]string{}, defaultDeniedPatterns...), cfg.DeniedPatterns...) {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid denied pattern %q: %w", p, err)
		}
		s.denied = append(s.denied, re)
	}
	return s, nil
}

// ExecResult contains the result of a command execution.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Format renders the result as tool output.
func (r *ExecResult) Format() string {
	var b strings.Builder
	if r.Stdout != "" {
		b.WriteString(r.Stdout)
	}
	if r.Stderr != "" {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteString("\n")
		}
		b.WriteString("STDERR:\n")
		b.WriteString(r.Stderr)
	}
	if r.TimedOut {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Command timed out and was killed")
	} else if r.ExitCode != 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Exit code: %d", r.ExitCode)
	}
	out := b.String()
	if out == "" {
		return "(no output)"
	}
	if len(out) > maxShellOutput {
		out = out[:maxShellOutput] + fmt.Sprintf("\n... (truncated, %d more chars)", len(out)-maxShellOutput)
	}
	return out
}

// guard rejects commands the executor must never run.
func (s *ShellExec) guard(command string) error {
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("command is required")
	}
	if len(command) > maxCommandLength {
		return fmt.Errorf("command too long (%d chars, max %d)", len(command), maxCommandLength)
	}
	for _, re := range s.denied {
		if re.MatchString(command) {
			return fmt.Errorf("command blocked by safety guard: matches %q", re.String())
		}
	}
	if s.resolver.Restricted() {
		if strings.Contains(command, "../") || strings.Contains(command, `..\`) {
			return fmt.Errorf("command blocked by safety guard: path traversal outside the workspace")
		}
	}
	return nil
}

// Exec executes a shell command. timeout of zero uses the default.
func (s *ShellExec) Exec(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error) {
	if err := s.guard(command); err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	timeout = min(timeout, maxShellTimeout)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = s.resolver.Root()
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		s.logger.Warn("command timed out", "timeout", timeout)
		return result, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("run command: %w", err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	s.logger.Debug("command finished", "exit_code", result.ExitCode, "elapsed", time.Since(start))
	return result, nil
}

type execArgs struct {
	Command    string `json:"command" jsonschema_description:"Shell command to run with sh -c in the workspace."`
	TimeoutSec int    `json:"timeout,omitempty" jsonschema_description:"Timeout in seconds. Defaults to the configured shell timeout."`
}

// Tool returns the exec tool.
func (s *ShellExec) Tool() Tool {
	return Typed("exec", "Execute a shell command in the workspace and return its output. Use with care.",
		func(ctx context.Context, a execArgs) (string, error) {
			res, err := s.Exec(ctx, a.Command, time.Duration(a.TimeoutSec)*time.Second)
			if err != nil {
				return "", err
			}
			return res.Format(), nil
		})
}
