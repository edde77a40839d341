package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

const dayLayout = "20060102"

var dayFileRe = regexp.MustCompile(`^\d{8}\.jsonl$`)

// Store is an append-only JSONL store rotated per UTC day: records land
// in <dir>/YYYYMMDD.jsonl, one JSON object per line. Files and the
// directory are created lazily on first append.
type Store struct {
	dir string
	mu  sync.Mutex

	now func() time.Time // injectable for tests
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Append marshals record and appends it as one line to today's file.
func (s *Store) Append(record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("audit: marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("audit: mkdir: %w", err)
	}

	path := filepath.Join(s.dir, s.now().UTC().Format(dayLayout)+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: write %s: %w", path, err)
	}
	return nil
}

// LoadRunRecords reads run records from day files within [from, to]
// (inclusive, compared by UTC day). Zero times disable the respective
// bound. Unparseable lines are skipped with a warning; a missing
// directory yields no records.
func (s *Store) LoadRunRecords(from, to time.Time) ([]RunRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: read dir: %w", err)
	}

	var out []RunRecord
	for _, e := range entries {
		if e.IsDir() || !dayFileRe.MatchString(e.Name()) {
			continue
		}

		day, err := time.ParseInLocation(dayLayout, e.Name()[:8], time.UTC)
		if err != nil {
			continue
		}
		if !from.IsZero() && day.Before(from.UTC().Truncate(24*time.Hour)) {
			continue
		}
		if !to.IsZero() && day.After(to.UTC()) {
			continue
		}

		recs, err := s.loadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

// LoadAllRunRecords reads every run record in the directory regardless of
// date, for dedicated baseline directories.
func (s *Store) LoadAllRunRecords() ([]RunRecord, error) {
	return s.LoadRunRecords(time.Time{}, time.Time{})
}

func (s *Store) loadFile(path string) ([]RunRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	defer f.Close()

	var out []RunRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var r RunRecord
		if err := json.Unmarshal(raw, &r); err != nil {
			slog.Warn("audit_skip_bad_line",
				slog.String("file", path),
				slog.Int("line", line),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan %s: %w", path, err)
	}
	return out, nil
}
