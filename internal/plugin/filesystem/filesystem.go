// Package filesystem implements the built-in filesystem ToolPlugin (spec
// §4.7): read/write/list/search/codebase_search rooted at a configured
// workspace directory, with an fsnotify watcher publishing
// "filesystem.changed" events.
package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"

	"github.com/kadirpekel/ainulindale/internal/plugin"
)

// Config is the filesystem plugin's typed configuration, decoded via
// mapstructure from ToolEntity.Config (spec §9 "central type-erased
// container... interior should be typed").
type Config struct {
	WorkingDirectory string `mapstructure:"working_directory"`
	MaxFileSize      int64  `mapstructure:"max_file_size"`
	CanWrite         bool   `mapstructure:"can_write"`
	WatchForChanges  bool   `mapstructure:"watch_for_changes"`
}

// ReadFileArgs parameterizes the read_file operation.
type ReadFileArgs struct {
	Path      string `json:"path" jsonschema:"required,description=File path relative to the workspace root"`
	StartLine int    `json:"start_line,omitempty" mapstructure:"start_line" jsonschema:"description=Starting line number (1-indexed),minimum=1"`
	EndLine   int    `json:"end_line,omitempty" mapstructure:"end_line" jsonschema:"description=Ending line number (inclusive),minimum=1"`
}

// WriteFileArgs parameterizes the write_file operation.
type WriteFileArgs struct {
	Path    string `json:"path" jsonschema:"required,description=File path relative to the workspace root"`
	Content string `json:"content" jsonschema:"required,description=Content to write"`
}

// ListArgs parameterizes the list operation.
type ListArgs struct {
	Path string `json:"path,omitempty" jsonschema:"description=Directory path relative to the workspace root,default=."`
}

// SearchArgs parameterizes the search (grep) operation.
type SearchArgs struct {
	Pattern string `json:"pattern" jsonschema:"required,description=Regular expression pattern to search for"`
	Path    string `json:"path,omitempty" jsonschema:"description=File or directory to search in,default=."`
}

// CodebaseSearchArgs parameterizes the codebase_search operation: a plain
// substring search over file contents, distinct from the regex-based
// search operation.
type CodebaseSearchArgs struct {
	Query string `json:"query" jsonschema:"required,description=Natural-language or substring query to search the codebase for"`
}

// Plugin is the filesystem ToolPlugin.
type Plugin struct {
	mu      sync.RWMutex
	cfg     Config
	watcher *fsnotify.Watcher
	ready   bool
}

// New creates an unconfigured filesystem plugin; Initialize must be called
// before it reports available.
func New() *Plugin { return &Plugin{} }

func (p *Plugin) ID() string          { return "filesystem" }
func (p *Plugin) Name() string        { return "Filesystem" }
func (p *Plugin) Description() string { return "Read, write, list, and search files in a workspace directory." }
func (p *Plugin) Category() string    { return "filesystem" }
func (p *Plugin) Icon() string        { return "folder" }

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
		"max_file_size":      int64(10 * 1024 * 1024),
		"can_write":          false,
		"watch_for_changes":  false,
	}
}

func (p *Plugin) ValidateConfig(cfg map[string]any) error {
	var c Config
	if err := mapstructure.Decode(cfg, &c); err != nil {
		return fmt.Errorf("filesystem: invalid config: %w", err)
	}
	if c.WorkingDirectory == "" {
		return fmt.Errorf("filesystem: working_directory is required")
	}
	return nil
}

// Initialize decodes cfg and, if WatchForChanges is set, starts an
// fsnotify watcher on the workspace root whose raw events are exposed
// through Changes(). See (*Plugin).Changes.
func (p *Plugin) Initialize(cfg map[string]any) error {
	var c Config
	if err := mapstructure.Decode(cfg, &c); err != nil {
		return fmt.Errorf("filesystem: decode config: %w", err)
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 10 * 1024 * 1024
	}
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = "./"
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = c

	if c.WatchForChanges {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("filesystem: create watcher: %w", err)
		}
		if err := w.Add(c.WorkingDirectory); err != nil {
			_ = w.Close()
			return fmt.Errorf("filesystem: watch %s: %w", c.WorkingDirectory, err)
		}
		p.watcher = w
	}
	p.ready = true
	return nil
}

// Changes returns the fsnotify event channel for the workspace watcher, or
// nil if watching is disabled. Nothing in this module drains it, so
// watcher events are not republished as "filesystem.changed" on the bus.
func (p *Plugin) Changes() <-chan fsnotify.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.watcher == nil {
		return nil
	}
	return p.watcher.Events
}

// Dispose closes the watcher, if any.
func (p *Plugin) Dispose() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watcher != nil {
		return p.watcher.Close()
	}
	return nil
}

// HealthCheck reports whether the configured workspace directory is still
// reachable.
func (p *Plugin) HealthCheck() error {
	p.mu.RLock()
	dir := p.cfg.WorkingDirectory
	p.mu.RUnlock()
	if dir == "" {
		return fmt.Errorf("filesystem: not initialized")
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("filesystem: workspace directory unreachable: %w", err)
	}
	return nil
}

func (p *Plugin) IsAvailable() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready
}

// Workspace returns the configured workspace root, used by the Prompt
// Composer to fill the Environment section (spec §4.10).
func (p *Plugin) Workspace() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.WorkingDirectory
}

// CanWrite reports whether this configured instance permits write_file, used
// by the Prompt Composer's workspace-detection heuristic (spec §4.10,
// "the first filesystem tool with write permission defines the workspace").
func (p *Plugin) CanWrite() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.CanWrite
}

func (p *Plugin) Tools() []plugin.ToolDef {
	readSchema, _ := plugin.GenerateSchema[ReadFileArgs]()
	writeSchema, _ := plugin.GenerateSchema[WriteFileArgs]()
	listSchema, _ := plugin.GenerateSchema[ListArgs]()
	searchSchema, _ := plugin.GenerateSchema[SearchArgs]()
	codebaseSchema, _ := plugin.GenerateSchema[CodebaseSearchArgs]()

	return []plugin.ToolDef{
		{Name: "filesystem_read_file", Operation: "read_file", Description: "Read the contents of a file.", Schema: readSchema, Permission: "read"},
		{Name: "filesystem_write_file", Operation: "write_file", Description: "Write content to a file, creating or overwriting it.", Schema: writeSchema, Permission: "write"},
		{Name: "filesystem_list", Operation: "list", Description: "List the contents of a directory.", Schema: listSchema, Permission: "read"},
		{Name: "filesystem_search", Operation: "search", Description: "Search file contents with a regular expression.", Schema: searchSchema, Permission: "read"},
		{Name: "filesystem_codebase_search", Operation: "codebase_search", Description: "Search the codebase for a query string.", Schema: codebaseSchema, Permission: "read"},
	}
}

func (p *Plugin) Execute(ctx context.Context, ec plugin.ExecutionContext, operation string, params map[string]any) plugin.Result {
	p.mu.RLock()
	cfg := p.cfg
	p.mu.RUnlock()

	// The invoking tool entity's config overrides the Initialize-time base
	// for this call only: two filesystem entities may root different
	// workspaces on the same board.
	if len(ec.Config) > 0 {
		if err := mapstructure.Decode(ec.Config, &cfg); err != nil {
			return plugin.Result{Err: &plugin.ExecError{Code: "invalid_params", Message: fmt.Sprintf("tool entity config: %v", err)}}
		}
	}

	switch operation {
	case "read_file":
		return p.readFile(cfg, params)
	case "write_file":
		return p.writeFile(cfg, ec, params)
	case "list":
		return p.list(cfg, params)
	case "search":
		return p.search(cfg, params)
	case "codebase_search":
		return p.codebaseSearch(cfg, params)
	default:
		return plugin.Result{Err: &plugin.ExecError{Code: "not_found", Message: fmt.Sprintf("unknown operation %q", operation)}}
	}
}

func (p *Plugin) resolve(cfg Config, rel string) (string, error) {
	full := filepath.Join(cfg.WorkingDirectory, rel)
	root, err := filepath.Abs(cfg.WorkingDirectory)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(abs, root) {
		return "", fmt.Errorf("path escapes workspace: %s", rel)
	}
	return abs, nil
}

func (p *Plugin) readFile(cfg Config, params map[string]any) plugin.Result {
	var args ReadFileArgs
	if err := mapstructure.Decode(params, &args); err != nil {
		return plugin.Result{Err: &plugin.ExecError{Code: "invalid_params", Message: err.Error()}}
	}
	path, err := p.resolve(cfg, args.Path)
	if err != nil {
		return plugin.Result{Err: &plugin.ExecError{Code: "invalid_params", Message: err.Error()}}
	}
	info, err := os.Stat(path)
	if err != nil {
		return plugin.Result{Err: &plugin.ExecError{Code: "execution_failed", Message: err.Error()}}
	}
	if cfg.MaxFileSize > 0 && info.Size() > cfg.MaxFileSize {
		return plugin.Result{Err: &plugin.ExecError{Code: "execution_failed", Message: fmt.Sprintf("file too large: %d bytes (max %d)", info.Size(), cfg.MaxFileSize)}}
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return plugin.Result{Err: &plugin.ExecError{Code: "execution_failed", Message: err.Error()}}
	}
	text := string(content)
	if args.StartLine > 0 || args.EndLine > 0 {
		lines := strings.Split(text, "\n")
		start := args.StartLine
		if start < 1 {
			start = 1
		}
		end := args.EndLine
		if end < 1 || end > len(lines) {
			end = len(lines)
		}
		if start > end {
			return plugin.Result{Err: &plugin.ExecError{Code: "invalid_params", Message: "start_line > end_line"}}
		}
		text = strings.Join(lines[start-1:end], "\n")
	}
	return plugin.Result{Value: map[string]any{"content": text, "path": args.Path}}
}

func (p *Plugin) writeFile(cfg Config, ec plugin.ExecutionContext, params map[string]any) plugin.Result {
	if !cfg.CanWrite {
		return plugin.Result{Err: &plugin.ExecError{Code: "permission_denied", Message: "this filesystem instance is not configured for writes"}}
	}
	var args WriteFileArgs
	if err := mapstructure.Decode(params, &args); err != nil {
		return plugin.Result{Err: &plugin.ExecError{Code: "invalid_params", Message: err.Error()}}
	}
	path, err := p.resolve(cfg, args.Path)
	if err != nil {
		return plugin.Result{Err: &plugin.ExecError{Code: "invalid_params", Message: err.Error()}}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return plugin.Result{Err: &plugin.ExecError{Code: "execution_failed", Message: err.Error()}}
	}
	if err := os.WriteFile(path, []byte(args.Content), 0o644); err != nil {
		return plugin.Result{Err: &plugin.ExecError{Code: "execution_failed", Message: err.Error()}}
	}
	if ec.Emit != nil {
		ec.Emit("filesystem.changed", map[string]any{"path": args.Path, "op": "write"})
	}
	return plugin.Result{Value: map[string]any{"path": args.Path, "bytes_written": len(args.Content)}}
}

func (p *Plugin) list(cfg Config, params map[string]any) plugin.Result {
	var args ListArgs
	_ = mapstructure.Decode(params, &args)
	if args.Path == "" {
		args.Path = "."
	}
	path, err := p.resolve(cfg, args.Path)
	if err != nil {
		return plugin.Result{Err: &plugin.ExecError{Code: "invalid_params", Message: err.Error()}}
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return plugin.Result{Err: &plugin.ExecError{Code: "execution_failed", Message: err.Error()}}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return plugin.Result{Value: map[string]any{"entries": names}}
}

func (p *Plugin) search(cfg Config, params map[string]any) plugin.Result {
	var args SearchArgs
	if err := mapstructure.Decode(params, &args); err != nil {
		return plugin.Result{Err: &plugin.ExecError{Code: "invalid_params", Message: err.Error()}}
	}
	re, err := regexp.Compile(args.Pattern)
	if err != nil {
		return plugin.Result{Err: &plugin.ExecError{Code: "invalid_params", Message: fmt.Sprintf("invalid pattern: %v", err)}}
	}
	root := args.Path
	if root == "" {
		root = "."
	}
	base, err := p.resolve(cfg, root)
	if err != nil {
		return plugin.Result{Err: &plugin.ExecError{Code: "invalid_params", Message: err.Error()}}
	}
	var matches []string
	_ = filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		for i, line := range strings.Split(string(content), "\n") {
			if re.MatchString(line) {
				rel, _ := filepath.Rel(cfg.WorkingDirectory, path)
				matches = append(matches, fmt.Sprintf("%s:%d:%s", rel, i+1, line))
			}
		}
		return nil
	})
	return plugin.Result{Value: map[string]any{"matches": matches}}
}

func (p *Plugin) codebaseSearch(cfg Config, params map[string]any) plugin.Result {
	var args CodebaseSearchArgs
	if err := mapstructure.Decode(params, &args); err != nil {
		return plugin.Result{Err: &plugin.ExecError{Code: "invalid_params", Message: err.Error()}}
	}
	var matches []string
	_ = filepath.Walk(cfg.WorkingDirectory, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		if strings.Contains(string(content), args.Query) {
			rel, _ := filepath.Rel(cfg.WorkingDirectory, path)
			matches = append(matches, rel)
		}
		return nil
	})
	return plugin.Result{Value: map[string]any{"files": matches}}
}
