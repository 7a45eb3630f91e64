// Package resultlog appends final records to per-keyword JSON-Lines files
// and rehydrates the already-seen listing set from them.
package resultlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/tigerliu/idlewatch/internal/domain"
)

var unsafeFileChars = regexp.MustCompile(`[\\/:*?"<>|\s]+`)

// SanitizeName makes a keyword or task name safe for use in a filename.
func SanitizeName(name string) string {
	return strings.Trim(unsafeFileChars.ReplaceAllString(name, "_"), "_")
}

// Log is the append-only result sink for one keyword.
type Log struct {
	path   string
	logger *zap.Logger
}

// Open returns the log for keyword rooted at dir, creating dir if needed.
func Open(dir, keyword string, logger *zap.Logger) (*Log, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create result dir %s: %w", dir, err)
	}
	name := fmt.Sprintf("%s_full_data.jsonl", SanitizeName(keyword))
	return &Log{path: filepath.Join(dir, name), logger: logger}, nil
}

// Path returns the backing file path.
func (l *Log) Path() string { return l.path }

// Append writes one record as a single JSON line. The file is opened in
// append mode per call so concurrent tasks with different keywords never
// share a descriptor.
func (l *Log) Append(record *domain.FinalRecord) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open result log %s: %w", l.path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append result log %s: %w", l.path, err)
	}
	return nil
}

// SeenIDs scans the log and returns the set of listing ids already recorded.
// This set is the source of truth for "already processed"; a missing file
// yields an empty set.
func (l *Log) SeenIDs() (map[string]struct{}, error) {
	seen := make(map[string]struct{})
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return seen, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open result log %s: %w", l.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var row struct {
			Item struct {
				ListingID string `json:"商品ID"`
			} `json:"商品信息"`
		}
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			l.logger.Warn("skipping malformed result line",
				zap.String("file", l.path), zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		if row.Item.ListingID != "" {
			seen[row.Item.ListingID] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan result log %s: %w", l.path, err)
	}
	return seen, nil
}

// StatsWriter persists per-task run counters.
type StatsWriter struct {
	dir   string
	clock domain.Clock
}

// NewStatsWriter returns a writer rooted at dir.
func NewStatsWriter(dir string, clock domain.Clock) *StatsWriter {
	return &StatsWriter{dir: dir, clock: clock}
}

func (w *StatsWriter) path(taskName string) string {
	return filepath.Join(w.dir, SanitizeName(taskName)+"_stats.json")
}

// Write persists the counters for taskName, stamping the current time.
func (w *StatsWriter) Write(taskName string, processed, recommended int) error {
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return fmt.Errorf("create stats dir %s: %w", w.dir, err)
	}
	stats := domain.TaskStats{
		ProcessedCount:   processed,
		RecommendedCount: recommended,
		Timestamp:        w.clock.Now().Format(domain.TimeFormat),
	}
	payload, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	tmp, err := os.CreateTemp(w.dir, ".stats-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp stats: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp stats: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp stats: %w", err)
	}
	if err := os.Rename(tmpName, w.path(taskName)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename stats: %w", err)
	}
	return nil
}

// Delete removes the stats file for taskName; missing files are a no-op.
func (w *StatsWriter) Delete(taskName string) error {
	err := os.Remove(w.path(taskName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete stats for %s: %w", taskName, err)
	}
	return nil
}
