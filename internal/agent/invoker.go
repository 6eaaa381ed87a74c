// Package agent runs the opencode CLI as a headless subprocess and extracts
// the assistant's answer from its JSON event stream.
package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sevigo/pr-warden/internal/config"
)

const (
	defaultTimeout = 900 * time.Second
	tailLimit      = 4000
	waitDelay      = 5 * time.Second
)

var (
	ErrTimeout         = errors.New("opencode timed out")
	ErrNoOutput        = errors.New("opencode produced no output")
	ErrNoAssistantText = errors.New("opencode returned no assistant text")
)

// EventError is an error event reported by the agent itself.
type EventError struct {
	Message string
}

func (e *EventError) Error() string {
	return e.Message
}

// Request describes one agent invocation.
type Request struct {
	Prompt      string
	Attachments []string
	// Env overrides the parent environment. OPENCODE_BIN here takes
	// precedence over the configured binary.
	Env     map[string]string
	WorkDir string
	// Timeout overrides the configured timeout when positive.
	Timeout time.Duration
	// AuthMaterial, when set, is written as opencode's auth.json in a
	// private data dir for the duration of the call.
	AuthMaterial []byte
}

// Result is the assistant's answer plus details for logging.
type Result struct {
	Text     string
	ExitCode int
	Duration time.Duration
	Events   int
	Stderr   string
}

// Invoker runs the agent.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// Runner invokes the opencode binary.
type Runner struct {
	binary   string
	model    string
	agent    string
	timeout  time.Duration
	resolver resolver
	logger   *slog.Logger
}

// NewRunner creates a Runner from the agent config.
func NewRunner(cfg *config.AgentConfig, logger *slog.Logger) *Runner {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Runner{
		binary:   cfg.Binary,
		model:    cfg.Model,
		agent:    cfg.Agent,
		timeout:  timeout,
		resolver: newResolver(),
		logger:   logger,
	}
}

// Invoke runs `opencode run --format json` with the prompt and attachments
// and returns the concatenated assistant text.
func (r *Runner) Invoke(ctx context.Context, req Request) (*Result, error) {
	override := req.Env[OverrideEnv]
	if override == "" {
		override = r.binary
	}
	bin, err := r.resolver.resolve(override)
	if err != nil {
		return nil, err
	}

	scratch, err := os.MkdirTemp("", "prw-agent-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create agent scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	env := map[string]string{}
	for k, v := range req.Env {
		env[k] = v
	}
	if len(req.AuthMaterial) > 0 {
		dataHome, err := writeAuthMaterial(scratch, req.AuthMaterial)
		if err != nil {
			return nil, err
		}
		env["XDG_DATA_HOME"] = dataHome
	}
	if req.WorkDir != "" {
		env["PWD"] = req.WorkDir
	}
	env["CI"] = "true"
	env["NO_COLOR"] = "1"
	env["OPENCODE_NONINTERACTIVE"] = "1"
	env["TERM"] = "dumb"

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, bin, r.args(req)...)
	cmd.Dir = req.WorkDir
	cmd.Env = mergeEnv(os.Environ(), env)
	cmd.Stdin = nil
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Info("invoking agent", "binary", bin, "workdir", req.WorkDir,
		"attachments", len(req.Attachments), "timeout", timeout)

	start := time.Now()
	runErr := cmd.Run()
	result := &Result{Duration: time.Since(start), Stderr: tail(stderr.String(), tailLimit)}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("%w after %s\nstdout tail:\n%s\nstderr tail:\n%s",
			ErrTimeout, timeout, tail(stdout.String(), tailLimit), result.Stderr)
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("agent run cancelled: %w", ctx.Err())
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		if hint := diagnose(bin); hint != "" {
			return nil, fmt.Errorf("failed to start %s: %w (%s)", bin, runErr, hint)
		}
		return nil, fmt.Errorf("failed to start %s: %w", bin, runErr)
	}

	r.logger.Info("agent finished", "exit_code", result.ExitCode, "duration", result.Duration,
		"stdout_bytes", stdout.Len(), "stderr_bytes", stderr.Len())

	text, events, err := collectText(stdout.Bytes())
	result.Events = events
	switch {
	case errors.Is(err, ErrNoOutput), errors.Is(err, ErrNoAssistantText):
		return nil, fmt.Errorf("%w (exit=%d): %s", err, result.ExitCode, strings.TrimSpace(result.Stderr))
	case err != nil:
		return nil, err
	}
	result.Text = text
	return result, nil
}

func (r *Runner) args(req Request) []string {
	args := []string{"run", "--format", "json"}
	if r.model != "" {
		args = append(args, "--model", r.model)
	}
	if r.agent != "" {
		args = append(args, "--agent", r.agent)
	}
	for _, path := range req.Attachments {
		args = append(args, "--file", path)
	}
	return append(args, "--", req.Prompt)
}

// collectText walks the NDJSON stream. The first error event wins over any
// assistant text.
func collectText(stdout []byte) (string, int, error) {
	if len(bytes.TrimSpace(stdout)) == 0 {
		return "", 0, ErrNoOutput
	}

	var fragments []string
	count := 0
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), len(stdout)+1)
	for scanner.Scan() {
		for _, ev := range DecodeLine(scanner.Text()) {
			switch ev.Kind {
			case EventKindUnknown:
				continue
			case EventKindError:
				return "", count, &EventError{Message: ev.Text}
			default:
				count++
				fragments = append(fragments, ev.Text)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", count, fmt.Errorf("failed to read agent output: %w", err)
	}
	if len(fragments) == 0 {
		return "", count, ErrNoAssistantText
	}
	return strings.Join(fragments, "\n\n"), count, nil
}

// writeAuthMaterial stores auth.json under <scratch>/data/opencode and
// returns the directory to use as XDG_DATA_HOME.
func writeAuthMaterial(scratch string, material []byte) (string, error) {
	dataHome := filepath.Join(scratch, "data")
	dir := filepath.Join(dataHome, "opencode")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create agent data dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "auth.json"), material, 0o600); err != nil {
		return "", fmt.Errorf("failed to write agent credentials: %w", err)
	}
	return dataHome, nil
}

// AuthMaterial renders opencode's auth.json for a single API key.
func AuthMaterial(providerID, apiKey string) ([]byte, error) {
	return json.Marshal(map[string]any{
		providerID: map[string]string{"type": "api", "key": apiKey},
	})
}

func mergeEnv(base []string, overrides map[string]string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			merged[k] = v
		}
	}
	for k, v := range overrides {
		merged[k] = v
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// tail keeps the last limit runes of s.
func tail(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[len(r)-limit:])
}
