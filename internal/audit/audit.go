// Package audit implements the append-only, checksum-chained event log that
// records every registry mutation. Events land in one JSON Lines file per UTC
// day under the audit directory. Each line carries the checksum of the line
// before it, so tampering anywhere in a day file breaks verification from
// that point forward.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"labos/pkg/domain"
)

// Genesis is the prev_checksum of the first event in a day file.
const Genesis = "0000000000000000000000000000000000000000000000000000000000000000"

const (
	// tailWindow bounds how far Record seeks back to find the previous
	// checksum before falling back to a full scan.
	tailWindow = 4096
	// maxLineBytes caps a single chain record when scanning day files.
	maxLineBytes = 8 * 1024 * 1024
)

// Logger appends events to per-day chain files and verifies them.
type Logger struct {
	dir   string
	mu    sync.Mutex
	nowFn func() time.Time
}

// NewLogger opens the audit directory, creating it if necessary.
func NewLogger(dir string) (*Logger, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, domain.ConfigurationError{Key: "audit_dir", Reason: "must not be empty"}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.AuditError{Op: "open", Err: err}
	}
	return &Logger{dir: dir, nowFn: time.Now}, nil
}

// Dir returns the directory holding the day files.
func (l *Logger) Dir() string { return l.dir }

// SetNowFunc overrides the clock used to stamp events. Nil is ignored.
func (l *Logger) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.nowFn = fn
	l.mu.Unlock()
}

// Record appends one event to the current day's chain file and returns the
// stored event. The payload is normalized through a JSON round trip so the
// bytes hashed now are the bytes hashed again when the line is re-parsed
// during verification. An empty actor is recorded as "system".
func (l *Logger) Record(ctx context.Context, eventType, actor string, payload map[string]any) (domain.AuditEvent, error) {
	if strings.TrimSpace(eventType) == "" {
		return domain.AuditEvent{}, domain.ValidationError{Field: "event_type", Reason: "must not be empty"}
	}
	if strings.TrimSpace(actor) == "" {
		actor = "system"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stamp := l.nowFn().UTC()
	stampStr := stamp.Format(time.RFC3339Nano)
	path := l.dayPath(stamp)

	prev, err := lastChecksum(path)
	if err != nil {
		return domain.AuditEvent{}, domain.AuditError{Op: "record", Err: err}
	}
	normalized, err := normalizePayload(payload)
	if err != nil {
		return domain.AuditEvent{}, domain.AuditError{Op: "record", Err: err}
	}

	eventID := hashHex([]byte(stampStr + eventType + actor))
	fields := map[string]any{
		"event_id":      eventID,
		"timestamp":     stampStr,
		"event_type":    eventType,
		"actor":         actor,
		"prev_checksum": prev,
	}
	var payloadHash string
	if len(normalized) > 0 {
		canonicalPayload, err := json.Marshal(normalized)
		if err != nil {
			return domain.AuditEvent{}, domain.AuditError{Op: "record", Err: err}
		}
		payloadHash = hashHex(canonicalPayload)
		fields["payload"] = normalized
		fields["payload_hash"] = payloadHash
	}

	// json.Marshal writes map keys in sorted order, which is the canonical
	// encoding the verifier recomputes.
	canonical, err := json.Marshal(fields)
	if err != nil {
		return domain.AuditEvent{}, domain.AuditError{Op: "record", Err: err}
	}
	checksum := hashHex(append([]byte(prev), canonical...))
	fields["checksum"] = checksum

	line, err := json.Marshal(fields)
	if err != nil {
		return domain.AuditEvent{}, domain.AuditError{Op: "record", Err: err}
	}
	if err := appendLine(path, line); err != nil {
		return domain.AuditEvent{}, domain.AuditError{Op: "record", Err: err}
	}
	return domain.AuditEvent{
		EventID:      eventID,
		Timestamp:    stamp,
		EventType:    eventType,
		Actor:        actor,
		Payload:      normalized,
		PayloadHash:  payloadHash,
		PrevChecksum: prev,
		Checksum:     checksum,
	}, nil
}

func (l *Logger) dayPath(stamp time.Time) string {
	return filepath.Join(l.dir, stamp.Format("2006-01-02")+".jsonl")
}

// lastChecksum finds the checksum of the most recent event in path. It reads
// a window from the end of the file and widens to the whole file when the
// window holds no complete record, which happens when the final line is
// longer than the window. A missing file starts a fresh chain.
func lastChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Genesis, nil
	}
	if err != nil {
		return "", err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", err
	}
	start := info.Size() - tailWindow
	if start < 0 {
		start = 0
	}
	sum, ok, err := checksumInWindow(file, start, info.Size())
	if err != nil {
		return "", err
	}
	if !ok && start > 0 {
		sum, ok, err = checksumInWindow(file, 0, info.Size())
		if err != nil {
			return "", err
		}
	}
	if !ok {
		return Genesis, nil
	}
	return sum, nil
}

// checksumInWindow scans [start, end) backwards for the newest line that
// carries a checksum.
func checksumInWindow(file *os.File, start, end int64) (string, bool, error) {
	buf := make([]byte, end-start)
	n, err := file.ReadAt(buf, start)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", false, err
	}
	lines := strings.Split(string(buf[:n]), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		raw := strings.TrimSpace(lines[i])
		if raw == "" {
			continue
		}
		var record struct {
			Checksum string `json:"checksum"`
		}
		if err := json.Unmarshal([]byte(raw), &record); err != nil || record.Checksum == "" {
			continue
		}
		return record.Checksum, true, nil
	}
	return "", false, nil
}

// normalizePayload round-trips the payload through JSON so numeric and
// composite values hash identically when the stored line is re-parsed.
func normalizePayload(payload map[string]any) (map[string]any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var normalized map[string]any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, fmt.Errorf("normalize payload: %w", err)
	}
	return normalized, nil
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func appendLine(path string, line []byte) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// NopRecorder discards every event. It stands in where auditing is disabled.
type NopRecorder struct{}

// Record drops the event and returns an empty one.
func (NopRecorder) Record(context.Context, string, string, map[string]any) (domain.AuditEvent, error) {
	return domain.AuditEvent{}, nil
}
