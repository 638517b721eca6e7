// Package notify surfaces short user-facing messages.
package notify

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

const (
	MsgSavedRemote = "Trail has been saved successfully!"
	MsgSavedLocal  = "Saved locally, will retry when online"
	MsgRecovered   = "Recovered in-progress hike"
)

// SyncedMessage is shown after a reconcile pass uploaded n hikes.
func SyncedMessage(n int) string {
	if n == 1 {
		return "Synced 1 hike"
	}
	return fmt.Sprintf("Synced %d hikes", n)
}

// Level is the severity of a notice.
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelError   Level = "error"
)

// Notifier shows transient notices.
type Notifier interface {
	Success(msg string)
	Info(msg string)
	Error(msg string)
}

// Slog writes notices to a logger under the "notice" message.
type Slog struct {
	logger *slog.Logger
}

func NewSlog(logger *slog.Logger) *Slog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slog{logger: logger}
}

func (n *Slog) Success(msg string) {
	n.logger.Info("notice", "kind", LevelSuccess, "text", msg)
}

func (n *Slog) Info(msg string) {
	n.logger.Info("notice", "kind", LevelInfo, "text", msg)
}

func (n *Slog) Error(msg string) {
	n.logger.Warn("notice", "kind", LevelError, "text", msg)
}

// Writer prints notices as "[kind] text" lines, for terminals.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
}

func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

func (w *Writer) print(l Level, msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, "[%s] %s\n", l, msg)
}

func (w *Writer) Success(msg string) { w.print(LevelSuccess, msg) }
func (w *Writer) Info(msg string)    { w.print(LevelInfo, msg) }
func (w *Writer) Error(msg string)   { w.print(LevelError, msg) }

// Notice is one recorded message.
type Notice struct {
	Level Level
	Text  string
}

// Recorder keeps notices in memory. The CLI prints them and tests inspect them.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) add(l Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, Notice{Level: l, Text: msg})
}

func (r *Recorder) Success(msg string) { r.add(LevelSuccess, msg) }
func (r *Recorder) Info(msg string)    { r.add(LevelInfo, msg) }
func (r *Recorder) Error(msg string)   { r.add(LevelError, msg) }

// Notices returns a copy of everything recorded so far.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Texts returns the recorded message texts in order.
func (r *Recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.notices))
	for i, n := range r.notices {
		out[i] = n.Text
	}
	return out
}

// Multi fans a notice out to several notifiers.
type Multi []Notifier

func (m Multi) Success(msg string) {
	for _, n := range m {
		n.Success(msg)
	}
}

func (m Multi) Info(msg string) {
	for _, n := range m {
		n.Info(msg)
	}
}

func (m Multi) Error(msg string) {
	for _, n := range m {
		n.Error(msg)
	}
}
