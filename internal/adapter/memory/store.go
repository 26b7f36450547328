// Package memory provides process-local implementations of the program store,
// journal sink and adjustment ledger. They back local runs (STORE=memory) and
// the engine tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/irrigation-engine/internal/domain"
)

// Store is a mutex-guarded program store. The mutex gives claims the same
// serial behaviour a SERIALIZABLE transaction gives the Postgres store.
type Store struct {
	mu       sync.Mutex
	programs map[int64]domain.Program
	nextID   int64

	// FailSave, when set, is consulted before every write. Tests use it to
	// inject persistence failures.
	FailSave func(p domain.Program) error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{programs: make(map[int64]domain.Program)}
}

// Add inserts p as a new program, assigning an id when p.ID is zero.
func (s *Store) Add(p domain.Program) domain.Program {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == 0 {
		s.nextID++
		p.ID = s.nextID
	} else if p.ID > s.nextID {
		s.nextID = p.ID
	}
	if p.Status == "" {
		p.Status = domain.StatusScheduled
	}
	p.Version = 1
	s.programs[p.ID] = p
	return p
}

// Get returns the stored copy of a program, ignoring not-found.
func (s *Store) Get(id int64) domain.Program {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.programs[id]
}

// Len reports how many programs are stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.programs)
}

func (s *Store) FindDue(_ context.Context, now time.Time) ([]domain.Program, error) {
	return s.filter(func(p domain.Program) bool {
		return p.Status == domain.StatusScheduled && !p.ScheduledAt.After(now)
	}), nil
}

func (s *Store) FindByID(_ context.Context, id int64) (domain.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.programs[id]
	if !ok {
		return domain.Program{}, fmt.Errorf("program %d: %w", id, domain.ErrProgramNotFound)
	}
	return p, nil
}

func (s *Store) Save(_ context.Context, p domain.Program) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(p); err != nil {
		return err
	}
	p.Version++
	s.programs[p.ID] = p
	return nil
}

// SaveAll applies every write or none of them.
func (s *Store) SaveAll(_ context.Context, ps []domain.Program) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range ps {
		if err := s.check(p); err != nil {
			return err
		}
	}
	for _, p := range ps {
		p.Version++
		s.programs[p.ID] = p
	}
	return nil
}

func (s *Store) FindInWindow(_ context.Context, start, end time.Time, status domain.Status) ([]domain.Program, error) {
	return s.filter(func(p domain.Program) bool {
		return p.Status == status && !p.ScheduledAt.Before(start) && !p.ScheduledAt.After(end)
	}), nil
}

func (s *Store) FindBefore(_ context.Context, cutoff time.Time, status domain.Status) ([]domain.Program, error) {
	return s.filter(func(p domain.Program) bool {
		return p.Status == status && p.ScheduledAt.Before(cutoff)
	}), nil
}

func (s *Store) Claim(_ context.Context, id int64) (domain.ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.programs[id]
	if !ok {
		return domain.ClaimResult{Outcome: domain.ClaimNotFound}, nil
	}
	if p.Status != domain.StatusScheduled {
		return domain.ClaimResult{Outcome: domain.ClaimSkipped, Program: p}, nil
	}
	if err := p.Transition(domain.Claim); err != nil {
		return domain.ClaimResult{}, err
	}
	if s.FailSave != nil {
		if err := s.FailSave(p); err != nil {
			return domain.ClaimResult{}, err
		}
	}
	p.Version++
	s.programs[id] = p
	return domain.ClaimResult{Outcome: domain.Claimed, Program: p}, nil
}

// check must be called with mu held.
func (s *Store) check(p domain.Program) error {
	current, ok := s.programs[p.ID]
	if !ok {
		return fmt.Errorf("program %d: %w", p.ID, domain.ErrProgramNotFound)
	}
	if current.Version != p.Version {
		return fmt.Errorf("program %d at version %d, have %d: %w", p.ID, current.Version, p.Version, domain.ErrConcurrentClaim)
	}
	if s.FailSave != nil {
		return s.FailSave(p)
	}
	return nil
}

func (s *Store) filter(keep func(domain.Program) bool) []domain.Program {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Program
	for _, p := range s.programs {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out
}
