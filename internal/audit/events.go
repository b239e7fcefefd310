package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"labos/pkg/domain"
)

// Events returns the decoded events for one day, oldest first. A missing day
// file yields an empty slice.
func (l *Logger) Events(ctx context.Context, day string) ([]domain.AuditEvent, error) {
	file, err := os.Open(filepath.Join(l.dir, day+".jsonl"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.AuditError{Op: "read", Err: err}
	}
	defer file.Close()

	var events []domain.AuditEvent
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var event domain.AuditEvent
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			return nil, domain.AuditError{Op: "read", Err: fmt.Errorf("parse %s line %d: %w", day, line, err)}
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, domain.AuditError{Op: "read", Err: err}
	}
	return events, nil
}

// AllEvents returns every recorded event across all days, oldest first.
func (l *Logger) AllEvents(ctx context.Context) ([]domain.AuditEvent, error) {
	days, err := l.Days()
	if err != nil {
		return nil, err
	}
	var all []domain.AuditEvent
	for _, day := range days {
		events, err := l.Events(ctx, day)
		if err != nil {
			return nil, err
		}
		all = append(all, events...)
	}
	return all, nil
}

// Tail returns up to limit of the most recent events, oldest first.
func (l *Logger) Tail(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	days, err := l.Days()
	if err != nil {
		return nil, err
	}
	var tail []domain.AuditEvent
	for i := len(days) - 1; i >= 0 && len(tail) < limit; i-- {
		events, err := l.Events(ctx, days[i])
		if err != nil {
			return nil, err
		}
		if want := limit - len(tail); len(events) > want {
			events = events[len(events)-want:]
		}
		tail = append(events, tail...)
	}
	return tail, nil
}
