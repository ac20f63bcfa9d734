// internal/job/runlog.go
package job

import "sync"

// RunLog is the per-run progress artifact: an append-only line buffer
// addressed by line index. It replaces the log-file-plus-byte-offset
// tailing of an external process with an in-memory cursor contract.
type RunLog struct {
	mu    sync.Mutex
	lines []string
}

// Append adds one progress line. Safe for concurrent use.
func (l *RunLog) Append(line string) {
	l.mu.Lock()
	l.lines = append(l.lines, line)
	l.mu.Unlock()
}

// Since returns the lines appended at or after cursor and the next cursor.
// Out-of-range cursors are clamped.
func (l *RunLog) Since(cursor int) ([]string, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(l.lines) {
		return nil, len(l.lines)
	}

	out := make([]string, len(l.lines)-cursor)
	copy(out, l.lines[cursor:])
	return out, len(l.lines)
}
