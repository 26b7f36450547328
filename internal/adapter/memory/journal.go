package memory

import (
	"context"
	"sync"

	"github.com/couchcryptid/irrigation-engine/internal/domain"
)

// Journal keeps journal entries in insertion order.
type Journal struct {
	mu      sync.Mutex
	entries []domain.JournalEntry

	// Fail, when set, is returned by Record instead of appending.
	Fail error
}

func NewJournal() *Journal {
	return &Journal{}
}

func (j *Journal) Record(_ context.Context, entry domain.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.Fail != nil {
		return j.Fail
	}
	j.entries = append(j.entries, entry)
	return nil
}

// Entries returns a copy of everything recorded so far.
func (j *Journal) Entries() []domain.JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.JournalEntry(nil), j.entries...)
}

// For returns the entries recorded for one program.
func (j *Journal) For(programID int64) []domain.JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []domain.JournalEntry
	for _, e := range j.entries {
		if e.ProgramID == programID {
			out = append(out, e)
		}
	}
	return out
}
