package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"labos/pkg/domain"
)

// ChainBreak pinpoints the first line of a day file that fails verification.
type ChainBreak struct {
	Line     int    `json:"line"`
	Reason   string `json:"reason"`
	Expected string `json:"expected,omitempty"`
	Found    string `json:"found,omitempty"`
}

// VerificationResult reports the outcome of verifying one day file.
type VerificationResult struct {
	Day    string      `json:"day"`
	Events int         `json:"events"`
	Valid  bool        `json:"valid"`
	Break  *ChainBreak `json:"break,omitempty"`
}

// Verify walks the chain for one day (formatted 2006-01-02) and reports the
// first break, if any. A missing day file is a valid empty chain. Tampered or
// malformed records are reported through the Break field; only I/O failures
// come back as errors.
func (l *Logger) Verify(ctx context.Context, day string) (VerificationResult, error) {
	result := VerificationResult{Day: day, Valid: true}
	file, err := os.Open(filepath.Join(l.dir, day+".jsonl"))
	if errors.Is(err, fs.ErrNotExist) {
		return result, nil
	}
	if err != nil {
		return VerificationResult{}, domain.AuditError{Op: "verify", Err: err}
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	prev := Genesis
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			result.Valid = false
			result.Break = &ChainBreak{Line: line, Reason: "malformed record"}
			return result, nil
		}
		found, _ := record["checksum"].(string)
		if found == "" {
			result.Valid = false
			result.Break = &ChainBreak{Line: line, Reason: "record missing checksum"}
			return result, nil
		}
		if recordedPrev, _ := record["prev_checksum"].(string); recordedPrev != prev {
			result.Valid = false
			result.Break = &ChainBreak{Line: line, Reason: "chain discontinuity", Expected: prev, Found: recordedPrev}
			return result, nil
		}
		delete(record, "checksum")
		canonical, err := json.Marshal(record)
		if err != nil {
			return VerificationResult{}, domain.AuditError{Op: "verify", Err: err}
		}
		expected := hashHex(append([]byte(prev), canonical...))
		if found != expected {
			result.Valid = false
			result.Break = &ChainBreak{Line: line, Reason: "checksum mismatch", Expected: expected, Found: found}
			return result, nil
		}
		prev = found
		result.Events++
	}
	if err := scanner.Err(); err != nil {
		return VerificationResult{}, domain.AuditError{Op: "verify", Err: err}
	}
	return result, nil
}

// verifyParallelism bounds concurrent day-file verification.
const verifyParallelism = 4

// VerifyAll verifies every day file in the audit directory. Days are
// checked concurrently; results come back oldest first.
func (l *Logger) VerifyAll(ctx context.Context) ([]VerificationResult, error) {
	days, err := l.Days()
	if err != nil {
		return nil, err
	}
	results := make([]VerificationResult, len(days))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(verifyParallelism)
	for i, day := range days {
		group.Go(func() error {
			res, err := l.Verify(ctx, day)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Days lists the days with chain files present, oldest first.
func (l *Logger) Days() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.AuditError{Op: "list", Err: err}
	}
	days := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		days = append(days, strings.TrimSuffix(name, ".jsonl"))
	}
	sort.Strings(days)
	return days, nil
}
