package tool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadFileTool(t *testing.T) {
	workspace := t.TempDir()
	writeTestFile(t, workspace, "main.go", "package main\n\nfunc main() {}\n")
	tool := NewReadFileTool(workspace, zap.NewNop())

	result, err := tool.Execute(context.Background(), map[string]interface{}{"path": "main.go"})
	if err != nil || !result.Success {
		t.Fatalf("read failed: %v %+v", err, result)
	}
	if !strings.Contains(result.Output, "package main") {
		t.Errorf("output = %q", result.Output)
	}

	// Line-ranged read reports more content remaining.
	result, err = tool.Execute(context.Background(), map[string]interface{}{
		"path": "main.go", "offset_lines": float64(1), "limit": float64(1),
	})
	if err != nil || !result.Success {
		t.Fatalf("ranged read failed: %v", err)
	}
	if result.Output != "package main" {
		t.Errorf("ranged output = %q", result.Output)
	}
	if !result.HasMore {
		t.Error("HasMore not set for truncated read")
	}

	result, _ = tool.Execute(context.Background(), map[string]interface{}{"path": "missing.go"})
	if result.Success {
		t.Error("reading a missing file succeeded")
	}
}

func TestWriteFileTool(t *testing.T) {
	workspace := t.TempDir()
	tool := NewWriteFileTool(workspace, zap.NewNop())

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"path": "nested/dir/out.txt", "content": "hello",
	})
	if err != nil || !result.Success {
		t.Fatalf("write failed: %v %+v", err, result)
	}
	if len(result.ModifiedFiles) != 1 || result.ModifiedFiles[0] != "nested/dir/out.txt" {
		t.Errorf("modified files = %v", result.ModifiedFiles)
	}

	raw, err := os.ReadFile(filepath.Join(workspace, "nested/dir/out.txt"))
	if err != nil || string(raw) != "hello" {
		t.Errorf("file content = %q err %v", raw, err)
	}
}

func TestEditFileTool(t *testing.T) {
	workspace := t.TempDir()
	writeTestFile(t, workspace, "a.txt", "alpha beta gamma\n")
	tool := NewEditFileTool(workspace, zap.NewNop())

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"path": "a.txt", "old_str": "beta", "new_str": "BETA",
	})
	if err != nil || !result.Success {
		t.Fatalf("edit failed: %v %+v", err, result)
	}
	raw, _ := os.ReadFile(filepath.Join(workspace, "a.txt"))
	if string(raw) != "alpha BETA gamma\n" {
		t.Errorf("content = %q", raw)
	}

	// Legacy keys work.
	result, err = tool.Execute(context.Background(), map[string]interface{}{
		"path": "a.txt", "old_string": "BETA", "new_string": "beta",
	})
	if err != nil || !result.Success {
		t.Fatalf("legacy edit failed: %v %+v", err, result)
	}

	// Ambiguous matches are rejected.
	writeTestFile(t, workspace, "b.txt", "x\nx\n")
	result, _ = tool.Execute(context.Background(), map[string]interface{}{
		"path": "b.txt", "old_str": "x", "new_str": "y",
	})
	if result.Success {
		t.Error("ambiguous edit succeeded")
	}
	if !strings.Contains(result.Error, "2 locations") {
		t.Errorf("error = %q", result.Error)
	}
}

func TestListFilesTool(t *testing.T) {
	workspace := t.TempDir()
	writeTestFile(t, workspace, "z.txt", "")
	writeTestFile(t, workspace, "sub/a.txt", "")
	tool := NewListFilesTool(workspace, zap.NewNop())

	result, err := tool.Execute(context.Background(), map[string]interface{}{"path": "."})
	if err != nil || !result.Success {
		t.Fatalf("list failed: %v", err)
	}
	lines := strings.Split(result.Output, "\n")
	if len(lines) != 2 || lines[0] != "sub/" || lines[1] != "z.txt" {
		t.Errorf("listing = %v", lines)
	}
}

func TestGlobTool(t *testing.T) {
	workspace := t.TempDir()
	writeTestFile(t, workspace, "a.go", "")
	writeTestFile(t, workspace, "b.txt", "")
	tool := NewGlobTool(workspace, zap.NewNop())

	result, err := tool.Execute(context.Background(), map[string]interface{}{"pattern": "*.go"})
	if err != nil || !result.Success {
		t.Fatalf("glob failed: %v", err)
	}
	if result.Output != "a.go" {
		t.Errorf("matches = %q", result.Output)
	}

	result, _ = tool.Execute(context.Background(), map[string]interface{}{"pattern": "*.rs"})
	if result.Output != "(no matches)" {
		t.Errorf("empty glob = %q", result.Output)
	}
}

func TestUpdatePlanTool(t *testing.T) {
	tool := NewUpdatePlanTool(t.TempDir(), "sess", zap.NewNop())

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"action": "create",
		"goal":   "ship it",
		"steps":  []interface{}{"design", "build", "test"},
	})
	if err != nil || !result.Success {
		t.Fatalf("create failed: %v %+v", err, result)
	}

	result, err = tool.Execute(context.Background(), map[string]interface{}{
		"action": "update", "step_id": float64(2), "status": "done",
	})
	if err != nil || !result.Success {
		t.Fatalf("update failed: %v %+v", err, result)
	}

	result, _ = tool.Execute(context.Background(), map[string]interface{}{
		"action": "update", "step_id": float64(9), "status": "done",
	})
	if result.Success {
		t.Error("out-of-range step accepted")
	}
}

func TestPatchTargets(t *testing.T) {
	patch := `--- a/internal/foo.go
+++ b/internal/foo.go
@@ -1 +1 @@
-old
+new
--- /dev/null
+++ b/internal/new_file.go
@@ -0,0 +1 @@
+added
`
	targets := patchTargets(patch)
	if len(targets) != 2 || targets[0] != "internal/foo.go" || targets[1] != "internal/new_file.go" {
		t.Errorf("targets = %v", targets)
	}
}
