// Package spool persists oversized tool output to session-scoped files.
//
// When tool output exceeds a threshold, the full output is saved to a file
// which becomes the source of truth. The agent receives a preview (head +
// tail) plus the file path, and reads back ranges on demand instead of
// flooding the transcript.
//
// Directory structure: <base>/<session_hash>/call_<call_id>.output
package spool

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// headerMarker terminates the metadata header. The blank line is part of
// the marker; readers split on the literal sequence.
const headerMarker = "---\n\n"

const (
	previewHeadLines = 20
	previewTailLines = 10
)

// DefaultThresholdBytes is the spool threshold when none is configured.
const DefaultThresholdBytes = 50_000

// Config controls where and when output is spooled.
type Config struct {
	// BaseDir is the root for spool files (default: ~/.vtcode/tmp).
	BaseDir string
	// ThresholdBytes is the byte length at or above which output is spooled.
	ThresholdBytes int
	// SessionID groups related outputs under one session directory.
	SessionID string
}

// DefaultConfig returns a config rooted at ~/.vtcode/tmp.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		BaseDir:        filepath.Join(home, ".vtcode", "tmp"),
		ThresholdBytes: DefaultThresholdBytes,
	}
}

// Result describes a spooled output file. The backing file is the source of
// truth and is immutable for the call's lifetime; this struct carries only
// metadata, never the content.
type Result struct {
	FilePath   string
	SizeBytes  int
	LineCount  int
	ToolName   string
	WasSpooled bool
}

// SpoolLargeOutput writes content to a session-scoped file when it meets the
// threshold. Returns (nil, nil) when the content is below threshold. The
// threshold comparison uses byte length, not character count.
func SpoolLargeOutput(content, toolName string, cfg Config) (*Result, error) {
	threshold := cfg.ThresholdBytes
	if threshold <= 0 {
		threshold = DefaultThresholdBytes
	}
	if len(content) < threshold {
		return nil, nil
	}

	sessionDir := filepath.Join(cfg.BaseDir, sessionHash(cfg.SessionID))
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output spool directory %s: %w", sessionDir, err)
	}

	filePath := filepath.Join(sessionDir, fmt.Sprintf("call_%s.output", callID()))
	header := fmt.Sprintf(
		"# VT Code Tool Output\n# Tool: %s\n# Timestamp: %s\n# Size: %d bytes\n%s",
		toolName,
		time.Now().UTC().Format("2006-01-02 15:04:05 UTC"),
		len(content),
		headerMarker,
	)

	f, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file %s: %w", filePath, err)
	}
	defer f.Close()

	if _, err := f.WriteString(header); err != nil {
		return nil, fmt.Errorf("failed to write metadata to %s: %w", filePath, err)
	}
	if _, err := f.WriteString(content); err != nil {
		return nil, fmt.Errorf("failed to write content to %s: %w", filePath, err)
	}

	return &Result{
		FilePath:   filePath,
		SizeBytes:  len(content),
		LineCount:  countLines(content),
		ToolName:   toolName,
		WasSpooled: true,
	}, nil
}

// ReadFullContent returns the content after the header marker. Files without
// a marker are returned whole for forward compatibility. A missing file is
// an error, never a silent empty string.
func (r *Result) ReadFullContent() (string, error) {
	raw, err := os.ReadFile(r.FilePath)
	if err != nil {
		return "", fmt.Errorf("failed to read spooled output %s: %w", r.FilePath, err)
	}
	content := string(raw)
	if idx := strings.Index(content, headerMarker); idx >= 0 {
		return content[idx+len(headerMarker):], nil
	}
	return content, nil
}

// ReadLines returns the 1-indexed inclusive line range [start, end] from the
// spooled content using a streaming scan. Returns an empty string when
// start or end is zero, or start exceeds end.
func (r *Result) ReadLines(start, end int) (string, error) {
	if start == 0 || end == 0 || start > end {
		return "", nil
	}

	f, err := os.Open(r.FilePath)
	if err != nil {
		return "", fmt.Errorf("failed to read spooled output %s: %w", r.FilePath, err)
	}
	defer f.Close()

	var out strings.Builder
	scanner := newContentScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		if line < start {
			continue
		}
		if line > end {
			break
		}
		if out.Len() > 0 {
			out.WriteByte('\n')
		}
		out.WriteString(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to scan spooled output %s: %w", r.FilePath, err)
	}
	return out.String(), nil
}

// GetPreview returns the first 20 and last 10 lines joined by an
// omitted-count marker. Content of 30 lines or fewer is returned unchanged.
// The scan keeps only a bounded tail buffer, never the full line slice.
func (r *Result) GetPreview() (string, error) {
	f, err := os.Open(r.FilePath)
	if err != nil {
		return "", fmt.Errorf("failed to read spooled output %s: %w", r.FilePath, err)
	}
	defer f.Close()

	head := make([]string, 0, previewHeadLines)
	tail := make([]string, 0, previewTailLines)
	total := 0

	scanner := newContentScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if len(head) < previewHeadLines {
			head = append(head, line)
		}
		tail = append(tail, line)
		if len(tail) > previewTailLines {
			tail = tail[1:]
		}
		total++
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to scan spooled output %s: %w", r.FilePath, err)
	}

	if total <= previewHeadLines+previewTailLines {
		return r.ReadFullContent()
	}

	hidden := total - previewHeadLines - previewTailLines
	return fmt.Sprintf(
		"%s\n\n[... %d lines omitted - full output in: %s ...]\n\n%s",
		strings.Join(head, "\n"),
		hidden,
		r.FilePath,
		strings.Join(tail, "\n"),
	), nil
}

// ToAgentResponse builds the structured textual response embedded in the
// tool result when output was spooled: path, size, line count, tool name,
// preview, and explicit instructions for reading more.
func (r *Result) ToAgentResponse() (string, error) {
	preview, err := r.GetPreview()
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(
		`Output saved to file (source of truth): %s

Size: %d bytes (%d lines)
Tool: %s

--- Preview (first %d + last %d lines) ---
%s
--- End Preview ---

To read full content, use: read_file({"path":"%s","offset_lines":1,"limit":%d})
To read specific lines, use: read_file({"path":"%s","offset_lines":<start>,"limit":<line_count>})`,
		r.FilePath,
		r.SizeBytes,
		r.LineCount,
		r.ToolName,
		previewHeadLines,
		previewTailLines,
		preview,
		r.FilePath,
		r.LineCount,
		r.FilePath,
	), nil
}

// FormatCompactNotification renders a one-line pointer for inline display.
func FormatCompactNotification(r *Result) string {
	return fmt.Sprintf("[Output saved: %s (%d bytes)]", r.FilePath, r.SizeBytes)
}

// CleanupOldSpoolDirs removes per-session directories whose mtime is older
// than maxAgeHours, returning the count removed. A missing base dir is not
// an error.
func CleanupOldSpoolDirs(baseDir string, maxAgeHours int) (int, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-time.Duration(maxAgeHours) * time.Hour)
	cleaned := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if os.RemoveAll(filepath.Join(baseDir, entry.Name())) == nil {
				cleaned++
			}
		}
	}
	return cleaned, nil
}

// sessionHash derives a unique per-session directory name from the optional
// session id, wall-clock nanoseconds, and process id.
func sessionHash(sessionID string) string {
	h := sha256.New()
	if sessionID != "" {
		h.Write([]byte(sessionID))
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(time.Now().UnixNano()))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(os.Getpid()))
	h.Write(buf[:])
	return hex.EncodeToString(h.Sum(nil))
}

// callID derives a short unique id per spooled call: first 12 bytes of a
// timestamp/pid hash, hex-encoded.
func callID() string {
	h := sha256.New()
	nanos := uint64(time.Now().UnixNano())
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], nanos)
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(os.Getpid())^nanos)
	h.Write(buf[:])
	return hex.EncodeToString(h.Sum(nil)[:12])
}

// newContentScanner positions a scanner after the header marker so the line
// iteration covers only the raw content. Files without a marker scan whole.
func newContentScanner(f *os.File) *bufio.Scanner {
	reader := bufio.NewReader(f)
	// Consume the header: read until the "---\n" line, then the blank line.
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// No marker found; rewind and scan the whole file.
			if _, serr := f.Seek(0, 0); serr == nil {
				fresh := bufio.NewScanner(f)
				fresh.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
				return fresh
			}
			break
		}
		if line == "---\n" {
			// Swallow the blank line completing the marker.
			_, _ = reader.ReadString('\n')
			break
		}
	}
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return scanner
}

func countLines(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	return n
}
