package reqlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"
)

// Entry is one decided request, kept for the rest of the night so the
// oracle can see what was already asked.
type Entry struct {
	Timestamp string `json:"timestamp"`
	LinkAddr  string `json:"mac"`
	Reason    string `json:"reason"`
	Status    string `json:"status"`
	Duration  int    `json:"duration,omitempty"`
}

const maxReasonLen = 200
const defaultContextEntries = 10

// Log is the persistent nightly outcome log. It survives process restarts
// within one night and is cleared by the morning reset.
type Log struct {
	path           string
	contextEntries int
	mu             sync.Mutex
	now            func() time.Time
}

// New returns a log at path whose context summaries carry at most
// contextEntries recent outcomes; zero or negative means the default of 10.
func New(path string, contextEntries int) *Log {
	if contextEntries <= 0 {
		contextEntries = defaultContextEntries
	}
	return &Log{path: path, contextEntries: contextEntries, now: time.Now}
}

// Append records one outcome. Long reasons are truncated before they hit
// disk.
func (l *Log) Append(linkAddr, reason, status string, durationMinutes int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load()
	if err != nil {
		return err
	}

	if len(reason) > maxReasonLen {
		reason = reason[:maxReasonLen]
	}
	entries = append(entries, Entry{
		Timestamp: l.now().Format("2006-01-02 15:04:05"),
		LinkAddr:  linkAddr,
		Reason:    reason,
		Status:    status,
		Duration:  durationMinutes,
	})
	return l.save(entries)
}

// ContextSummary formats the most recent outcomes for the oracle's context
// block. Empty when nothing was decided yet tonight.
func (l *Log) ContextSummary() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load()
	if err != nil || len(entries) == 0 {
		return ""
	}

	if len(entries) > l.contextEntries {
		entries = entries[len(entries)-l.contextEntries:]
	}

	var b strings.Builder
	b.WriteString("\n\n## Previous requests tonight:\n")
	for _, e := range entries {
		mark := "✗"
		duration := ""
		if e.Status == "approved" {
			mark = "✓"
			duration = fmt.Sprintf(" (%d min)", e.Duration)
		}
		reason := e.Reason
		if len(reason) > 50 {
			reason = reason[:50]
		}
		fmt.Fprintf(&b, "- [%s] %s %s...%s\n", e.Timestamp, mark, reason, duration)
	}
	return b.String()
}

// Entries returns all recorded outcomes.
func (l *Log) Entries() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

// Clear removes the log for the new day.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (l *Log) load() ([]Entry, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (l *Log) save(entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(l.path, bytes.NewReader(data))
}
