// Package shell implements the built-in shell ToolPlugin (spec §4.7):
// run_command, guarded by a denylist of destructive base commands and
// patterns, following the teacher's command-tool safety defaults.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/kadirpekel/ainulindale/internal/plugin"
)

// DefaultDeniedCommands lists base commands this plugin refuses to run
// regardless of configuration.
var DefaultDeniedCommands = []string{
	"rm", "rmdir", "sudo", "su", "chmod", "chown",
	"dd", "mkfs", "fdisk", "mount", "umount",
	"kill", "killall", "pkill", "reboot", "shutdown",
	"passwd", "useradd", "userdel", "groupadd",
}

// DefaultDeniedPatterns blocks dangerous command shapes even when the base
// command itself is allowed.
var DefaultDeniedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+(-rf|-fr|--recursive)`),     // rm -rf variants
	regexp.MustCompile(`>\s*/dev/`),                      // writes to /dev
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:\s*&\s*\}\s*;`), // fork bomb
	regexp.MustCompile(`wget.*\|\s*sh`),                  // wget pipe to shell
	regexp.MustCompile(`curl.*\|\s*sh`),                  // curl pipe to shell
	regexp.MustCompile(`eval\s*\$`),                      // eval with variable
	regexp.MustCompile(`\$\(.*\)\s*>\s*/`),               // command substitution to root
	regexp.MustCompile(`>\s*/etc/`),                      // writes to /etc
	regexp.MustCompile(`chmod\s+777`),                    // overly permissive chmod
	regexp.MustCompile(`--no-preserve-root`),             // dangerous flag
}

// Config is the shell plugin's typed configuration.
type Config struct {
	WorkingDirectory string   `mapstructure:"working_directory"`
	ShellKind        string   `mapstructure:"shell_kind"` // "bash" | "sh" | "zsh"
	AllowedCommands  []string `mapstructure:"allowed_commands"`
	TimeoutSeconds   int      `mapstructure:"timeout_seconds"`
}

// RunCommandArgs parameterizes the run_command operation.
type RunCommandArgs struct {
	Command string `json:"command" jsonschema:"required,description=Shell command line to execute"`
}

// Plugin is the shell ToolPlugin.
type Plugin struct {
	mu    sync.RWMutex
	cfg   Config
	ready bool
}

// New creates an unconfigured shell plugin.
func New() *Plugin { return &Plugin{} }

func (p *Plugin) ID() string          { return "shell" }
func (p *Plugin) Name() string        { return "Shell" }
func (p *Plugin) Description() string { return "Run shell commands in the workspace directory." }
func (p *Plugin) Category() string    { return "shell" }
func (p *Plugin) Icon() string        { return "terminal" }

func (p *Plugin) ConfigSchema() map[string]any {
	schema, err := plugin.GenerateSchema[Config]()
	if err != nil {
		return nil
	}
	return schema
}

func (p *Plugin) DefaultConfig() map[string]any {
	return map[string]any{
		"working_directory": "./",
		"shell_kind":         "bash",
		"timeout_seconds":    30,
	}
}

func (p *Plugin) ValidateConfig(cfg map[string]any) error {
	var c Config
	if err := mapstructure.Decode(cfg, &c); err != nil {
		return fmt.Errorf("shell: invalid config: %w", err)
	}
	return nil
}

func (p *Plugin) Initialize(cfg map[string]any) error {
	var c Config
	if err := mapstructure.Decode(cfg, &c); err != nil {
		return fmt.Errorf("shell: decode config: %w", err)
	}
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = "./"
	}
	if c.ShellKind == "" {
		c.ShellKind = "bash"
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 30
	}
	p.mu.Lock()
	p.cfg = c
	p.ready = true
	p.mu.Unlock()
	return nil
}

// HealthCheck verifies the configured shell interpreter is on PATH; a
// missing interpreter is reported without failing board start, and
// IsAvailable is not affected (SPEC_FULL.md supplemented feature #2).
func (p *Plugin) HealthCheck() error {
	p.mu.RLock()
	kind := p.cfg.ShellKind
	p.mu.RUnlock()
	if _, err := exec.LookPath(kind); err != nil {
		return fmt.Errorf("shell: interpreter %q not found: %w", kind, err)
	}
	return nil
}

func (p *Plugin) IsAvailable() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready
}

// ShellKind returns the configured interpreter name, used by the Prompt
// Composer's Environment section (spec §4.10).
func (p *Plugin) ShellKind() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.ShellKind
}

func (p *Plugin) Tools() []plugin.ToolDef {
	schema, _ := plugin.GenerateSchema[RunCommandArgs]()
	return []plugin.ToolDef{
		{Name: "shell_run_command", Operation: "run_command", Description: "Run a shell command and return its output.", Schema: schema, Permission: "execute"},
	}
}

func (p *Plugin) Execute(ctx context.Context, ec plugin.ExecutionContext, operation string, params map[string]any) plugin.Result {
	if operation != "run_command" {
		return plugin.Result{Err: &plugin.ExecError{Code: "not_found", Message: fmt.Sprintf("unknown operation %q", operation)}}
	}

	var args RunCommandArgs
	if err := mapstructure.Decode(params, &args); err != nil {
		return plugin.Result{Err: &plugin.ExecError{Code: "invalid_params", Message: err.Error()}}
	}

	p.mu.RLock()
	cfg := p.cfg
	p.mu.RUnlock()

	// Per-call entity config overrides the Initialize-time base: shell
	// entities on the same board may differ in working directory, timeout,
	// or allowlist.
	if len(ec.Config) > 0 {
		if err := mapstructure.Decode(ec.Config, &cfg); err != nil {
			return plugin.Result{Err: &plugin.ExecError{Code: "invalid_params", Message: fmt.Sprintf("tool entity config: %v", err)}}
		}
	}

	if err := checkDenied(args.Command, cfg.AllowedCommands); err != nil {
		return plugin.Result{Err: &plugin.ExecError{Code: "permission_denied", Message: err.Error()}}
	}

	timeoutCtx, cancel := contextWithTimeout(ctx, cfg.TimeoutSeconds)
	defer cancel()

	cmd := exec.CommandContext(timeoutCtx, cfg.ShellKind, "-c", args.Command)
	cmd.Dir = cfg.WorkingDirectory
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if timeoutCtx.Err() != nil {
		return plugin.Result{Err: &plugin.ExecError{Code: "timeout", Message: fmt.Sprintf("command timed out after %ds", cfg.TimeoutSeconds)}}
	}
	if err != nil {
		return plugin.Result{Err: &plugin.ExecError{Code: "execution_failed", Message: fmt.Sprintf("%v: %s", err, stderr.String())}}
	}
	return plugin.Result{Value: map[string]any{"stdout": stdout.String(), "stderr": stderr.String()}}
}

func checkDenied(command string, allowed []string) error {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return fmt.Errorf("empty command")
	}
	base := fields[0]

	for _, denied := range DefaultDeniedCommands {
		if base == denied {
			return fmt.Errorf("command %q is denied", base)
		}
	}
	if len(allowed) > 0 {
		found := false
		for _, a := range allowed {
			if a == base {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("command %q is not in the allowed list", base)
		}
	}
	for _, re := range DefaultDeniedPatterns {
		if re.MatchString(command) {
			return fmt.Errorf("command matches a denied pattern")
		}
	}
	return nil
}

func contextWithTimeout(parent context.Context, seconds int) (context.Context, context.CancelFunc) {
	if seconds <= 0 {
		seconds = 30
	}
	return context.WithTimeout(parent, time.Duration(seconds)*time.Second)
}
