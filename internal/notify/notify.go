// Package notify delivers one-shot, human readable messages about generation
// progress to whoever is presenting them (a terminal, a test, a log).
package notify

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
)

// Level classifies a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
)

// DefaultTTL is how long a notification stays visible before it is dismissed automatically.
const DefaultTTL = 5 * time.Second

// Notification is a single message shown to the user.
type Notification struct {
	ID        string    `json:"id"`
	Level     Level     `json:"type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier receives messages keyed by lifecycle transitions.
type Notifier interface {
	Notify(level Level, message string)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(level Level, message string)

// Notify calls f.
func (f NotifierFunc) Notify(level Level, message string) { f(level, message) }

// Discard drops every notification.
var Discard Notifier = NotifierFunc(func(Level, string) {})

// Multi fans a notification out to several notifiers in order.
type Multi []Notifier

// Notify forwards to every non-nil notifier.
func (m Multi) Notify(level Level, message string) {
	for _, n := range m {
		if n != nil {
			n.Notify(level, message)
		}
	}
}

// Center keeps the currently visible notifications. Entries expire after the
// configured TTL; expiry is applied lazily whenever the list is read.
type Center struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items []Notification
}

// NewCenter builds a Center. A non-positive ttl uses DefaultTTL.
func NewCenter(ttl time.Duration) *Center {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Center{ttl: ttl, now: time.Now}
}

// Notify records a new notification.
func (c *Center) Notify(level Level, message string) {
	c.Push(level, message)
}

// Push records a notification and returns it.
func (c *Center) Push(level Level, message string) Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := Notification{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   message,
		CreatedAt: c.now(),
	}
	c.items = append(c.items, n)
	return n
}

// Active returns the notifications that have not expired, oldest first.
func (c *Center) Active() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	return append([]Notification(nil), c.items...)
}

// Dismiss removes a notification by id and reports whether it was present.
func (c *Center) Dismiss(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, n := range c.items {
		if n.ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Center) pruneLocked() {
	cutoff := c.now().Add(-c.ttl)
	kept := c.items[:0]
	for _, n := range c.items {
		if n.CreatedAt.After(cutoff) {
			kept = append(kept, n)
		}
	}
	c.items = kept
}

// Console prints notifications as coloured lines.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	noColor bool
}

// NewConsole writes to out. Colour is disabled when noColor is set.
func NewConsole(out io.Writer, noColor bool) *Console {
	return &Console{out: out, noColor: noColor}
}

// Notify writes a single line describing the notification.
func (c *Console) Notify(level Level, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	painter := color.New(levelColor(level))
	if c.noColor {
		painter.DisableColor()
	} else {
		painter.EnableColor()
	}
	painter.Fprintf(c.out, "%s %s\n", levelTag(level), message)
}

func levelColor(level Level) color.Attribute {
	switch level {
	case LevelSuccess:
		return color.FgGreen
	case LevelError:
		return color.FgRed
	case LevelWarning:
		return color.FgYellow
	default:
		return color.FgCyan
	}
}

func levelTag(level Level) string {
	switch level {
	case LevelSuccess, LevelError, LevelInfo, LevelWarning:
		return fmt.Sprintf("[%s]", level)
	default:
		return "[info]"
	}
}
