// Package telemetry records anonymous usage events to a local JSONL
// file. Nothing ever leaves the machine; the file exists so operators
// can inspect or delete what would be shared before opting in to any
// future upload.
package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileName is the JSONL file created under the feedback directory.
const FileName = "telemetry-events.jsonl"

// EnvEnabled opts telemetry collection in when set to "1" or "true".
const EnvEnabled = "LABOS_TELEMETRY"

// Event is a single recorded usage event.
type Event struct {
	EventID   string         `json:"event_id"`
	Name      string         `json:"name"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Recorder appends events to the local telemetry file.
type Recorder struct {
	mu      sync.Mutex
	path    string
	enabled bool
	now     func() time.Time
}

// New returns a recorder writing under dir. The recorder stays dormant
// unless enabled is true.
func New(dir string, enabled bool) *Recorder {
	return &Recorder{
		path:    filepath.Join(dir, FileName),
		enabled: enabled,
		now:     time.Now,
	}
}

// FromEnv returns a recorder honoring the LABOS_TELEMETRY opt-in.
func FromEnv(dir string) *Recorder {
	v := os.Getenv(EnvEnabled)
	return New(dir, v == "1" || v == "true")
}

// Enabled reports whether events are being persisted.
func (r *Recorder) Enabled() bool {
	if r == nil {
		return false
	}
	return r.enabled
}

// SetNowFunc overrides the clock. Used by tests.
func (r *Recorder) SetNowFunc(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Record appends one event. Disabled recorders drop events silently so
// call sites never need to branch on the opt-in.
func (r *Recorder) Record(name string, payload map[string]any) error {
	if r == nil || !r.enabled {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ev := Event{
		EventID:   uuid.NewString(),
		Name:      name,
		Payload:   payload,
		CreatedAt: r.now().UTC(),
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode telemetry event: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create telemetry dir: %w", err)
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open telemetry file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append telemetry event: %w", err)
	}
	return nil
}

// Events reads back every recorded event, oldest first.
func (r *Recorder) Events() ([]Event, error) {
	if r == nil {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	raw, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read telemetry file: %w", err)
	}
	var events []Event
	dec := json.NewDecoder(bytes.NewReader(raw))
	for dec.More() {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			return events, fmt.Errorf("decode telemetry event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}
