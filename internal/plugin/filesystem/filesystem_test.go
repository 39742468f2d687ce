package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kadirpekel/ainulindale/internal/plugin"
)

func newTestPlugin(t *testing.T, canWrite bool) (*Plugin, string) {
	t.Helper()
	dir := t.TempDir()
	p := New()
	err := p.Initialize(map[string]any{
		"working_directory": dir,
		"max_file_size":      int64(1024),
		"can_write":          canWrite,
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return p, dir
}

func TestReadFileRoundTrip(t *testing.T) {
	p, dir := newTestPlugin(t, false)
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("line1\nline2\nline3"), 0o644); err != nil {
		t.Fatal(err)
	}
	res := p.Execute(context.Background(), plugin.ExecutionContext{}, "read_file", map[string]any{"path": "hello.txt"})
	if res.Err != nil {
		t.Fatalf("unexpected error: %+v", res.Err)
	}
	if res.Value["content"] != "line1\nline2\nline3" {
		t.Errorf("content = %q", res.Value["content"])
	}
}

func TestReadFileLineRange(t *testing.T) {
	p, dir := newTestPlugin(t, false)
	os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("a\nb\nc\nd"), 0o644)
	res := p.Execute(context.Background(), plugin.ExecutionContext{}, "read_file", map[string]any{"path": "hello.txt", "start_line": 2, "end_line": 3})
	if res.Err != nil {
		t.Fatalf("unexpected error: %+v", res.Err)
	}
	if res.Value["content"] != "b\nc" {
		t.Errorf("content = %q, want %q", res.Value["content"], "b\nc")
	}
}

func TestReadFileTooLarge(t *testing.T) {
	p, dir := newTestPlugin(t, false)
	big := make([]byte, 2048)
	os.WriteFile(filepath.Join(dir, "big.txt"), big, 0o644)
	res := p.Execute(context.Background(), plugin.ExecutionContext{}, "read_file", map[string]any{"path": "big.txt"})
	if res.Err == nil || res.Err.Code != "execution_failed" {
		t.Fatalf("expected execution_failed for oversized file, got %+v", res)
	}
}

func TestWriteFileDeniedWhenNotConfigured(t *testing.T) {
	p, _ := newTestPlugin(t, false)
	res := p.Execute(context.Background(), plugin.ExecutionContext{}, "write_file", map[string]any{"path": "out.txt", "content": "x"})
	if res.Err == nil || res.Err.Code != "permission_denied" {
		t.Fatalf("expected permission_denied, got %+v", res)
	}
}

func TestWriteFileEmitsChangedEvent(t *testing.T) {
	p, dir := newTestPlugin(t, true)
	var emitted []string
	ec := plugin.ExecutionContext{Emit: func(evt string, data any) { emitted = append(emitted, evt) }}
	res := p.Execute(context.Background(), ec, "write_file", map[string]any{"path": "out.txt", "content": "hi"})
	if res.Err != nil {
		t.Fatalf("unexpected error: %+v", res.Err)
	}
	content, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil || string(content) != "hi" {
		t.Fatalf("file contents = %q, err = %v", content, err)
	}
	if len(emitted) != 1 || emitted[0] != "filesystem.changed" {
		t.Errorf("emitted = %v, want [filesystem.changed]", emitted)
	}
}

func TestResolveRejectsPathEscape(t *testing.T) {
	p, _ := newTestPlugin(t, false)
	res := p.Execute(context.Background(), plugin.ExecutionContext{}, "read_file", map[string]any{"path": "../../etc/passwd"})
	if res.Err == nil {
		t.Fatal("expected error for path escaping workspace")
	}
}

func TestListSortsAndMarksDirectories(t *testing.T) {
	p, dir := newTestPlugin(t, false)
	os.Mkdir(filepath.Join(dir, "zdir"), 0o755)
	os.WriteFile(filepath.Join(dir, "afile.txt"), []byte("x"), 0o644)
	res := p.Execute(context.Background(), plugin.ExecutionContext{}, "list", map[string]any{"path": "."})
	if res.Err != nil {
		t.Fatalf("unexpected error: %+v", res.Err)
	}
	entries, _ := res.Value["entries"].([]string)
	if len(entries) != 2 || entries[0] != "afile.txt" || entries[1] != "zdir/" {
		t.Errorf("entries = %v", entries)
	}
}

func TestSearchFindsMatchingLines(t *testing.T) {
	p, dir := newTestPlugin(t, false)
	os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\nfunc Foo() {}\n"), 0o644)
	res := p.Execute(context.Background(), plugin.ExecutionContext{}, "search", map[string]any{"pattern": "func Foo"})
	if res.Err != nil {
		t.Fatalf("unexpected error: %+v", res.Err)
	}
	matches, _ := res.Value["matches"].([]string)
	if len(matches) != 1 {
		t.Fatalf("matches = %v, want 1 match", matches)
	}
}

func TestCodebaseSearchSubstring(t *testing.T) {
	p, dir := newTestPlugin(t, false)
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("needle in haystack"), 0o644)
	os.WriteFile(filepath.Join(dir, "b.txt"), []byte("nothing here"), 0o644)
	res := p.Execute(context.Background(), plugin.ExecutionContext{}, "codebase_search", map[string]any{"query": "needle"})
	if res.Err != nil {
		t.Fatalf("unexpected error: %+v", res.Err)
	}
	files, _ := res.Value["files"].([]string)
	if len(files) != 1 || files[0] != "a.txt" {
		t.Errorf("files = %v, want [a.txt]", files)
	}
}

func TestHealthCheckDetectsMissingWorkspace(t *testing.T) {
	p, dir := newTestPlugin(t, false)
	os.RemoveAll(dir)
	if err := p.HealthCheck(); err == nil {
		t.Fatal("expected HealthCheck to fail for removed workspace")
	}
}
