package logbook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

const completedMarker = "completed"

// Logbook is the operator-readable journal of release runs. Each line names
// the run and step it belongs to, so an aborted release can be picked up
// from the last step that finished.
type Logbook struct {
	path  string
	runID string
	now   func() time.Time
	mu    sync.Mutex
}

// New creates a logbook that writes to the provided path.
func New(path, runID string) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o775); err != nil {
		return nil, err
	}
	return &Logbook{path: path, runID: runID, now: time.Now}, nil
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// RunID returns the identifier stamped on every entry.
func (l *Logbook) RunID() string {
	if l == nil {
		return ""
	}
	return l.runID
}

// Append writes a single entry to the logbook.
func (l *Logbook) Append(level Level, step, message string) {
	if l == nil {
		return
	}
	if step == "" {
		step = "-"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("%s %-5s run=%s step=%s %s\n",
		l.now().UTC().Format(time.RFC3339),
		string(level),
		l.runID,
		step,
		strings.Join(strings.Fields(message), " "),
	)
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(line)
}

// Tail returns up to maxLines of the most recent entries and the total
// number of entries in the file.
func (l *Logbook) Tail(maxLines int) ([]string, int) {
	if l == nil || maxLines <= 0 {
		return nil, 0
	}
	lines := l.readAll()
	total := len(lines)
	if total > maxLines {
		lines = lines[total-maxLines:]
	}
	return lines, total
}

// LastCompleted returns the most recent step marked completed by any run,
// with the run that completed it.
func (l *Logbook) LastCompleted() (runID, step string, ok bool) {
	lines := l.readAll()
	for i := len(lines) - 1; i >= 0; i-- {
		fields := strings.Fields(lines[i])
		if len(fields) < 5 || fields[len(fields)-1] != completedMarker {
			continue
		}
		r, okRun := strings.CutPrefix(fields[2], "run=")
		s, okStep := strings.CutPrefix(fields[3], "step=")
		if okRun && okStep {
			return r, s, true
		}
	}
	return "", "", false
}

func (l *Logbook) readAll() []string {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Open(l.path)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

// Info appends an informational entry.
func (l *Logbook) Info(step, format string, args ...any) {
	l.Append(LevelInfo, step, fmt.Sprintf(format, args...))
}

// Warn appends a warning entry.
func (l *Logbook) Warn(step, format string, args ...any) {
	l.Append(LevelWarn, step, fmt.Sprintf(format, args...))
}

// Error appends an error entry.
func (l *Logbook) Error(step, format string, args ...any) {
	l.Append(LevelError, step, fmt.Sprintf(format, args...))
}

// Completed records that step finished.
func (l *Logbook) Completed(step string) {
	l.Append(LevelInfo, step, completedMarker)
}
