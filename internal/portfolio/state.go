package portfolio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is the serializable state of a Ledger
type Snapshot struct {
	Version     int64                      `json:"version"`    // Monotonic version for atomic updates
	UpdatedAt   string                     `json:"updated_at"` // Last save timestamp
	Positions   []Position                 `json:"positions"`
	Categories  map[string]string          `json:"categories"`
	History     []PnLRecord                `json:"history"`
	RealizedPnL decimal.Decimal            `json:"realized_pnl"`
	Daily       map[string]decimal.Decimal `json:"daily_realized"` // YYYY-MM-DD -> realized
}

// Snapshot captures the ledger state
func (l *Ledger) Snapshot() Snapshot {
	s := Snapshot{
		Positions:   l.Positions(),
		Categories:  make(map[string]string, len(l.categories)),
		History:     l.PnLHistory(),
		RealizedPnL: l.realized,
		Daily:       make(map[string]decimal.Decimal, len(l.daily)),
	}
	for k, v := range l.categories {
		s.Categories[k] = v
	}
	for k, v := range l.daily {
		s.Daily[k] = v
	}
	return s
}

// Restore replaces the ledger contents with s
func (l *Ledger) Restore(s Snapshot) {
	l.positions = make(map[Key]*Position, len(s.Positions))
	for _, p := range s.Positions {
		p := p
		l.positions[p.Key()] = &p
	}
	l.categories = make(map[string]string, len(s.Categories))
	for k, v := range s.Categories {
		l.categories[k] = v
	}
	l.history = append([]PnLRecord(nil), s.History...)
	l.realized = s.RealizedPnL
	l.daily = make(map[string]decimal.Decimal, len(s.Daily))
	for k, v := range s.Daily {
		l.daily[k] = v
	}
}

// Store persists ledger snapshots to a JSON file
type Store struct {
	filePath string
	version  int64
	mu       sync.Mutex
}

// NewStore creates a store writing to filePath
func NewStore(filePath string) *Store {
	return &Store{filePath: filePath}
}

// Path returns the snapshot file path
func (s *Store) Path() string { return s.filePath }

// Load reads the last snapshot. ok is false when no file exists yet.
func (s *Store) Load() (snap Snapshot, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("failed to read portfolio state: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to unmarshal portfolio state: %w", err)
	}
	s.version = snap.Version
	return snap, true, nil
}

// Save atomically writes snap, stamping the next version
func (s *Store) Save(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.version++
	snap.Version = s.version
	snap.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal portfolio state: %w", err)
	}
	if dir := filepath.Dir(s.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state dir: %w", err)
		}
	}

	// Atomic write using temp file + rename
	tempPath := s.filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp portfolio state: %w", err)
	}
	if err := os.Rename(tempPath, s.filePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename portfolio state: %w", err)
	}
	return nil
}
