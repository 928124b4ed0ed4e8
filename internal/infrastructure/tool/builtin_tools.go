package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	domaintool "github.com/vtcode/vtcode/internal/domain/tool"
	"github.com/vtcode/vtcode/internal/infrastructure/sandbox"
	"go.uber.org/zap"
)

// Result is a type alias for the domain tool result.
type Result = domaintool.Result

// BashTool executes shell commands inside the process sandbox.
type BashTool struct {
	sandbox *sandbox.ProcessSandbox
	logger  *zap.Logger
}

// NewBashTool creates the bash tool.
func NewBashTool(sb *sandbox.ProcessSandbox, logger *zap.Logger) *BashTool {
	return &BashTool{sandbox: sb, logger: logger}
}

func (t *BashTool) Name() string             { return "bash" }
func (t *BashTool) Kind() domaintool.Kind    { return domaintool.KindExecute }
func (t *BashTool) Description() string {
	return `Execute bash commands in the workspace.
IMPORTANT constraints:
- Commands have a bounded timeout; a command killed by the timeout reports exit code -1.
- Avoid interactive or long-running commands (top, watch, tail -f).
- Prefer simple, targeted commands over complex pipelines.
- If a command fails twice with the same error, stop retrying and report it.`
}

func (t *BashTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The bash command to execute",
			},
			"work_dir": map[string]interface{}{
				"type":        "string",
				"description": "Optional working directory for the command",
			},
		},
		"required": []interface{}{"command"},
	}
}

func (t *BashTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	command, ok := args["command"].(string)
	if !ok || strings.TrimSpace(command) == "" {
		return &Result{Success: false, Error: "command is required"}, fmt.Errorf("command is required")
	}

	if workDir, ok := args["work_dir"].(string); ok && workDir != "" {
		if err := t.sandbox.SetWorkDir(workDir); err != nil {
			return &Result{Success: false, Error: err.Error()}, err
		}
	}

	t.logger.Debug("Executing bash command", zap.String("command", command))

	result, err := t.sandbox.ExecuteShell(ctx, command)
	if err != nil {
		res := &Result{Success: false, Error: err.Error()}
		if result != nil {
			res.Output = result.Stderr
			res.Metadata = map[string]interface{}{
				"exit_code": result.ExitCode,
				"duration":  result.Duration.String(),
				"killed":    result.Killed,
			}
		}
		return res, nil
	}

	output := result.Stdout
	if result.Stderr != "" {
		output += "\n[stderr]\n" + result.Stderr
	}

	return &Result{
		Output:  output,
		Stdout:  result.Stdout,
		Success: result.ExitCode == 0,
		Metadata: map[string]interface{}{
			"exit_code": result.ExitCode,
			"duration":  result.Duration.String(),
		},
	}, nil
}

// ReadFileTool reads file contents, optionally by line range.
type ReadFileTool struct {
	workspace string
	logger    *zap.Logger
}

// NewReadFileTool creates the read_file tool.
func NewReadFileTool(workspace string, logger *zap.Logger) *ReadFileTool {
	return &ReadFileTool{workspace: workspace, logger: logger}
}

func (t *ReadFileTool) Name() string          { return "read_file" }
func (t *ReadFileTool) Kind() domaintool.Kind { return domaintool.KindRead }
func (t *ReadFileTool) Description() string {
	return "Read the contents of a file. Use this to examine source code, configuration files, and other text content."
}

func (t *ReadFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "The path to the file to read",
			},
			"offset_lines": map[string]interface{}{
				"type":        "integer",
				"description": "Optional starting line number (1-indexed)",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Optional maximum number of lines to return",
			},
		},
		"required": []interface{}{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return &Result{Success: false, Error: "path is required"}, fmt.Errorf("path is required")
	}

	resolved := sandbox.ResolveWorkspacePath(path, t.workspace)
	raw, err := os.ReadFile(resolved)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	content := string(raw)
	offset, hasOffset := intArg(args, "offset_lines")
	limit, hasLimit := intArg(args, "limit")
	hasMore := false

	if hasOffset || hasLimit {
		lines := strings.Split(content, "\n")
		start := 0
		if hasOffset && offset > 1 {
			start = offset - 1
		}
		if start > len(lines) {
			start = len(lines)
		}
		end := len(lines)
		if hasLimit && start+limit < end {
			end = start + limit
			hasMore = true
		}
		content = strings.Join(lines[start:end], "\n")
	}

	return &Result{
		Output:   content,
		Success:  true,
		HasMore:  hasMore,
		Metadata: map[string]interface{}{"path": path},
	}, nil
}

// WriteFileTool creates or overwrites a file.
type WriteFileTool struct {
	workspace string
	logger    *zap.Logger
}

// NewWriteFileTool creates the write_file tool.
func NewWriteFileTool(workspace string, logger *zap.Logger) *WriteFileTool {
	return &WriteFileTool{workspace: workspace, logger: logger}
}

func (t *WriteFileTool) Name() string          { return "write_file" }
func (t *WriteFileTool) Kind() domaintool.Kind { return domaintool.KindEdit }
func (t *WriteFileTool) Description() string {
	return "Write content to a file. Creates the file if it doesn't exist, or overwrites it if it does."
}

func (t *WriteFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "The path to the file to write",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The content to write to the file",
			},
		},
		"required": []interface{}{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return &Result{Success: false, Error: "path is required"}, fmt.Errorf("path is required")
	}
	content, ok := args["content"].(string)
	if !ok {
		return &Result{Success: false, Error: "content is required"}, fmt.Errorf("content is required")
	}

	resolved := sandbox.ResolveWorkspacePath(path, t.workspace)
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	return &Result{
		Output:        fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path),
		Success:       true,
		ModifiedFiles: []string{path},
	}, nil
}

// EditFileTool replaces an exact text snippet in a file.
type EditFileTool struct {
	workspace string
	logger    *zap.Logger
}

// NewEditFileTool creates the edit_file tool.
func NewEditFileTool(workspace string, logger *zap.Logger) *EditFileTool {
	return &EditFileTool{workspace: workspace, logger: logger}
}

func (t *EditFileTool) Name() string          { return "edit_file" }
func (t *EditFileTool) Kind() domaintool.Kind { return domaintool.KindEdit }
func (t *EditFileTool) Description() string {
	return "Edit a file by replacing an exact text snippet. " +
		"old_str must match the file contents exactly and unambiguously."
}

func (t *EditFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "The path to the file to edit",
			},
			"old_str": map[string]interface{}{
				"type":        "string",
				"description": "The exact text to replace",
			},
			"new_str": map[string]interface{}{
				"type":        "string",
				"description": "The replacement text",
			},
			"old_string": map[string]interface{}{
				"type":        "string",
				"description": "Legacy alias for old_str",
			},
			"new_string": map[string]interface{}{
				"type":        "string",
				"description": "Legacy alias for new_str",
			},
		},
		"required": []interface{}{"path"},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return &Result{Success: false, Error: "path is required"}, fmt.Errorf("path is required")
	}

	oldStr := stringArgWithFallback(args, "old_str", "old_string")
	newStr := stringArgWithFallback(args, "new_str", "new_string")
	if oldStr == "" {
		return &Result{Success: false, Error: "old_str is required"}, fmt.Errorf("old_str is required")
	}

	resolved := sandbox.ResolveWorkspacePath(path, t.workspace)
	raw, err := os.ReadFile(resolved)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	content := string(raw)

	count := strings.Count(content, oldStr)
	switch {
	case count == 0:
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("old_str not found in %s", path),
		}, nil
	case count > 1:
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("old_str matches %d locations in %s; provide more context", count, path),
		}, nil
	}

	updated := strings.Replace(content, oldStr, newStr, 1)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	return &Result{
		Output:        fmt.Sprintf("Edited %s", path),
		Success:       true,
		ModifiedFiles: []string{path},
	}, nil
}

// ListFilesTool lists a directory.
type ListFilesTool struct {
	workspace string
	logger    *zap.Logger
}

// NewListFilesTool creates the list_files tool.
func NewListFilesTool(workspace string, logger *zap.Logger) *ListFilesTool {
	return &ListFilesTool{workspace: workspace, logger: logger}
}

func (t *ListFilesTool) Name() string          { return "list_files" }
func (t *ListFilesTool) Kind() domaintool.Kind { return domaintool.KindRead }
func (t *ListFilesTool) Description() string {
	return "List files and directories at a path."
}

func (t *ListFilesTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "The directory path to list",
			},
		},
		"required": []interface{}{"path"},
	}
}

func (t *ListFilesTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return &Result{Success: false, Error: "path is required"}, fmt.Errorf("path is required")
	}

	resolved := sandbox.ResolveWorkspacePath(path, t.workspace)
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	return &Result{
		Output:   strings.Join(names, "\n"),
		Success:  true,
		Metadata: map[string]interface{}{"path": path, "count": len(names)},
	}, nil
}

// GrepFileTool searches file contents with grep.
type GrepFileTool struct {
	sandbox *sandbox.ProcessSandbox
	logger  *zap.Logger
}

// NewGrepFileTool creates the grep_file tool.
func NewGrepFileTool(sb *sandbox.ProcessSandbox, logger *zap.Logger) *GrepFileTool {
	return &GrepFileTool{sandbox: sb, logger: logger}
}

func (t *GrepFileTool) Name() string          { return "grep_file" }
func (t *GrepFileTool) Kind() domaintool.Kind { return domaintool.KindSearch }
func (t *GrepFileTool) Description() string {
	return "Search file contents for a pattern. Returns matching lines with file and line number."
}

func (t *GrepFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "The regular expression to search for",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File or directory to search",
			},
			"action": map[string]interface{}{
				"type":        "string",
				"description": "Search mode; set to grep when omitted and a pattern is given. This tool always runs a grep search, whatever the value",
			},
		},
		"required": []interface{}{"pattern", "path"},
	}
}

func (t *GrepFileTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	pattern, _ := args["pattern"].(string)
	path, _ := args["path"].(string)
	if pattern == "" || path == "" {
		return &Result{Success: false, Error: "pattern and path are required"}, fmt.Errorf("pattern and path are required")
	}

	cmd := fmt.Sprintf("grep -rn -- %s %s", shellQuote(pattern), shellQuote(path))
	result, err := t.sandbox.ExecuteShell(ctx, cmd)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	// grep exits 1 on no matches; that is a successful empty search.
	if result.ExitCode == 1 && result.Stdout == "" {
		return &Result{Output: "(no matches)", Success: true}, nil
	}
	if result.ExitCode > 1 {
		return &Result{Success: false, Error: result.Stderr}, nil
	}

	return &Result{Output: result.Stdout, Success: true}, nil
}

// GlobTool matches files by glob pattern.
type GlobTool struct {
	workspace string
	logger    *zap.Logger
}

// NewGlobTool creates the glob tool.
func NewGlobTool(workspace string, logger *zap.Logger) *GlobTool {
	return &GlobTool{workspace: workspace, logger: logger}
}

func (t *GlobTool) Name() string          { return "glob" }
func (t *GlobTool) Kind() domaintool.Kind { return domaintool.KindSearch }
func (t *GlobTool) Description() string {
	return "Find files matching a glob pattern, relative to the workspace root."
}

func (t *GlobTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "The glob pattern, e.g. internal/**/*.go",
			},
		},
		"required": []interface{}{"pattern"},
	}
}

func (t *GlobTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	pattern, ok := args["pattern"].(string)
	if !ok || pattern == "" {
		return &Result{Success: false, Error: "pattern is required"}, fmt.Errorf("pattern is required")
	}

	matches, err := filepath.Glob(filepath.Join(t.workspace, pattern))
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	rel := make([]string, 0, len(matches))
	for _, m := range matches {
		if r, err := filepath.Rel(t.workspace, m); err == nil {
			rel = append(rel, r)
		}
	}
	sort.Strings(rel)

	if len(rel) == 0 {
		return &Result{Output: "(no matches)", Success: true}, nil
	}
	return &Result{Output: strings.Join(rel, "\n"), Success: true}, nil
}

func intArg(args map[string]interface{}, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

func stringArgWithFallback(args map[string]interface{}, key, legacy string) string {
	if v, ok := args[key].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	if v, ok := args[legacy].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return ""
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
