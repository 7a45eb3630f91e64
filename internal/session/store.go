package session

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tigerliu/idlewatch/internal/domain"
)

const riskHistoryLimit = 50

// Store reads and writes account snapshots under a state directory, one JSON
// file per account. Reads are copy-on-load; writes are write-temp-then-rename.
// The store is the only process-wide mutable state besides the classifier's
// failure counter, so all mutating operations hold a single mutex.
type Store struct {
	dir    string
	hasher domain.Hasher
	clock  domain.Clock
	logger *zap.Logger

	mu sync.Mutex
}

// NewStore creates the state directory if needed and returns a Store.
func NewStore(dir string, hasher domain.Hasher, clock domain.Clock, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create state dir %s: %w", dir, err)
	}
	return &Store{dir: dir, hasher: hasher, clock: clock, logger: logger}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// List returns account names, skipping reserved entries prefixed with "_".
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read state dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		if strings.HasPrefix(name, "_") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Load reads one snapshot. A missing file yields an empty snapshot, not an
// error.
func (s *Store) Load(name string) (domain.AccountSnapshot, error) {
	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return domain.AccountSnapshot{}, nil
	}
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("read snapshot %s: %w", name, err)
	}
	var snap domain.AccountSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("decode snapshot %s: %w", name, err)
	}
	return snap, nil
}

// Save writes a snapshot atomically as pretty-printed UTF-8 JSON.
func (s *Store) Save(name string, snap domain.AccountSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(name, snap)
}

func (s *Store) saveLocked(name string, snap domain.AccountSnapshot) error {
	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(s.dir, "."+name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename snapshot %s: %w", name, err)
	}
	return nil
}

// SelectRandomValid picks uniformly at random among accounts whose cookie set
// is valid now. Returns "" when no account qualifies.
func (s *Store) SelectRandomValid() (string, error) {
	names, err := s.List()
	if err != nil {
		return "", err
	}
	now := s.clock.Now()
	var valid []string
	for _, name := range names {
		snap, err := s.Load(name)
		if err != nil {
			s.logger.Warn("skipping unreadable snapshot", zap.String("account", name), zap.Error(err))
			continue
		}
		if CookiesValidAt(snap.Cookies, now) {
			valid = append(valid, name)
		}
	}
	if len(valid) == 0 {
		return "", nil
	}
	return valid[rand.Intn(len(valid))], nil
}

// TouchLastUsed stamps last_used_at and persists.
func (s *Store) TouchLastUsed(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.Load(name)
	if err != nil {
		return err
	}
	snap.LastUsedAt = s.clock.Now().Format(domain.TimeFormat)
	return s.saveLocked(name, snap)
}

// RecordRisk increments the account's risk counter and appends a history
// entry, keeping only the last 50 entries.
func (s *Store) RecordRisk(name, reason, taskName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.Load(name)
	if err != nil {
		return err
	}
	snap.RiskControlCount++
	snap.RiskControlHistory = append(snap.RiskControlHistory, domain.RiskEvent{
		Timestamp: s.clock.Now().Format(domain.TimeFormat),
		Reason:    reason,
		TaskName:  taskName,
	})
	if n := len(snap.RiskControlHistory); n > riskHistoryLimit {
		snap.RiskControlHistory = snap.RiskControlHistory[n-riskHistoryLimit:]
	}
	return s.saveLocked(name, snap)
}

// RefreshCookies canonicalizes newCookies and writes them back only when the
// fingerprint changed, stamping last_cookie_refresh_at on every actual write.
// Returns true when a write happened.
func (s *Store) RefreshCookies(name string, newCookies []domain.Cookie) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.Load(name)
	if err != nil {
		return false, err
	}
	oldPrint, err := Fingerprint(s.hasher, snap.Cookies)
	if err != nil {
		return false, err
	}
	newPrint, err := Fingerprint(s.hasher, newCookies)
	if err != nil {
		return false, err
	}
	if oldPrint == newPrint {
		return false, nil
	}
	snap.Cookies = CanonicalizeCookies(newCookies)
	snap.LastCookieRefreshAt = s.clock.Now().Format(domain.TimeFormat)
	if err := s.saveLocked(name, snap); err != nil {
		return false, err
	}
	s.logger.Info("session cookies refreshed", zap.String("account", name))
	return true, nil
}
