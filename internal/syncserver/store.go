package syncserver

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTables lists the backend's synced tables in dependency order:
// locations first, so a peer inserts parents before their contents.
var DefaultTables = []string{"locations", "items", "movement_history", "outfits"}

// Record is the table-agnostic envelope every synced row travels in. Data
// carries the full row; its "id" field is the record's identity.
type Record struct {
	Table     string         `json:"table"`
	ID        string         `json:"id"`
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeviceID  string         `json:"device_id,omitempty"`
}

// PushOutcome counts what a merge did with the pushed records. An update of
// an existing row counts as both accepted and a resolved conflict.
type PushOutcome struct {
	Accepted  int
	Rejected  int
	Conflicts int
}

// MemStore is an in-memory last-write-wins record store implementing the
// merge side of the sync contract: newer updated_at replaces, older or equal
// is kept out, identity is the row id within its table.
type MemStore struct {
	mu     sync.RWMutex
	tables []string
	rows   map[string]map[string]Record
}

func NewMemStore(tables ...string) *MemStore {
	if len(tables) == 0 {
		tables = DefaultTables
	}
	rows := make(map[string]map[string]Record, len(tables))
	for _, table := range tables {
		rows[table] = make(map[string]Record)
	}
	return &MemStore{
		tables: tables,
		rows:   rows,
	}
}

// Merge applies pushed records. A record is rejected when its table is not
// registered or its row id is missing or not a UUID; otherwise it is
// inserted if new, replaces the local row if strictly newer, and is dropped
// as a conflict if the local row is at least as fresh.
func (s *MemStore) Merge(records []Record) PushOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out PushOutcome
	for _, rec := range records {
		rows, known := s.rows[rec.Table]
		if !known {
			out.Rejected++
			continue
		}

		id, _ := rec.Data["id"].(string)
		if id == "" {
			out.Rejected++
			continue
		}
		if _, err := uuid.Parse(id); err != nil {
			out.Rejected++
			continue
		}

		existing, exists := rows[id]
		if !exists {
			rows[id] = rec
			out.Accepted++
			continue
		}

		if !existing.UpdatedAt.IsZero() && !rec.UpdatedAt.IsZero() &&
			!existing.UpdatedAt.Before(rec.UpdatedAt) {
			out.Conflicts++
			continue
		}

		rows[id] = rec
		out.Accepted++
		out.Conflicts++
	}
	return out
}

// Changed returns records modified after since (all records when since is
// nil), ordered by table dependency, then by updated_at within each table.
func (s *MemStore) Changed(since *time.Time) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, table := range s.tables {
		batch := make([]Record, 0, len(s.rows[table]))
		for _, rec := range s.rows[table] {
			if since != nil && !rec.UpdatedAt.After(*since) {
				continue
			}
			batch = append(batch, rec)
		}
		sort.Slice(batch, func(i, j int) bool {
			return batch[i].UpdatedAt.Before(batch[j].UpdatedAt)
		})
		out = append(out, batch...)
	}
	return out
}

// Counts reports the row count per registered table.
func (s *MemStore) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int, len(s.tables))
	for _, table := range s.tables {
		out[table] = len(s.rows[table])
	}
	return out
}

// LastModified returns the newest updated_at across all tables, nil while
// the store is empty.
func (s *MemStore) LastModified() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *time.Time
	for _, rows := range s.rows {
		for _, rec := range rows {
			if latest == nil || rec.UpdatedAt.After(*latest) {
				t := rec.UpdatedAt
				latest = &t
			}
		}
	}
	return latest
}
