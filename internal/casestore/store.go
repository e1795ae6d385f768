// Package casestore is the process-wide registry of investigation
// cases. Case ids come from a single atomic counter so they stay
// unique and strictly increasing under concurrent allocation, and the
// fixed-width format keeps lexical order equal to creation order.
package casestore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// FormatCaseID renders a sequence number in the stable exported format.
func FormatCaseID(seq uint64) string {
	return fmt.Sprintf("CASE-%08d", seq)
}

type caseEntry struct {
	mu sync.Mutex // serializes mutation per case id
	c  *domain.Case
}

// Store holds all cases for the process lifetime. Cases are never
// deleted; closed cases are retained for compliance. An optional
// repository receives write-through persistence.
type Store struct {
	mu    sync.RWMutex
	seq   atomic.Uint64
	cases map[string]*caseEntry
	repo  domain.Repository
}

// NewStore creates a case store. repo may be nil for in-memory use.
func NewStore(repo domain.Repository) *Store {
	return &Store{
		cases: make(map[string]*caseEntry),
		repo:  repo,
	}
}

// Create allocates the next case id and registers a new OPEN case with
// the founding alert recorded in the audit trail.
func (s *Store) Create(ctx context.Context, tenantID string, alert *domain.Alert, priority domain.CasePriority, reason string) (*domain.Case, error) {
	if alert == nil {
		return nil, fmt.Errorf("founding alert is required")
	}

	seq := s.seq.Add(1)
	now := time.Now().UTC()

	c := &domain.Case{
		ID:       FormatCaseID(seq),
		Seq:      seq,
		TenantID: tenantID,
		TxID:     alert.TxID,
		AlertID:  alert.ID,
		Priority: priority,
		Status:   domain.CaseOpen,
		AuditTrail: []domain.AuditEntry{
			{
				Stage:     "monitoring",
				Event:     "case_created",
				Detail:    fmt.Sprintf("alert %s label %s: %s", alert.ID, alert.Label, reason),
				Timestamp: now,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.cases[c.ID] = &caseEntry{c: c}
	s.mu.Unlock()

	s.persist(ctx, c)

	return snapshot(c), nil
}

// Get returns a snapshot of a case.
func (s *Store) Get(caseID string) (*domain.Case, error) {
	entry, err := s.entry(caseID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return snapshot(entry.c), nil
}

// List returns snapshots of all cases with the given status, or all
// cases when status is empty. Results are ordered by case id.
func (s *Store) List(status domain.CaseStatus) []*domain.Case {
	s.mu.RLock()
	entries := make([]*caseEntry, 0, len(s.cases))
	for _, e := range s.cases {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var result []*domain.Case
	for _, e := range entries {
		e.mu.Lock()
		if status == "" || e.c.Status == status {
			result = append(result, snapshot(e.c))
		}
		e.mu.Unlock()
	}

	sortCases(result)
	return result
}

// AttachDisposition records the investigation outcome on an OPEN case
// and transitions it to CLOSED, or ESCALATED for confirmed fraud
// pending compliance sign-off. At most one disposition per case.
func (s *Store) AttachDisposition(ctx context.Context, caseID string, disp *domain.Disposition) (*domain.Case, error) {
	entry, err := s.entry(caseID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	c := entry.c
	if c.Status != domain.CaseOpen || c.Disposition != nil {
		return nil, fmt.Errorf("case %s: %w", caseID, domain.ErrCaseNotOpen)
	}

	now := time.Now().UTC()
	c.Disposition = disp
	if disp.Verdict == domain.VerdictConfirmedFraud {
		c.Status = domain.CaseEscalated
	} else {
		c.Status = domain.CaseClosed
	}
	c.UpdatedAt = now
	c.AuditTrail = append(c.AuditTrail, domain.AuditEntry{
		Stage:     "investigation",
		Event:     "disposition_attached",
		Detail:    fmt.Sprintf("verdict %s action %s", disp.Verdict, disp.Action),
		Timestamp: now,
	})

	s.persist(ctx, c)

	return snapshot(c), nil
}

// SignOff closes an ESCALATED case after compliance review.
func (s *Store) SignOff(ctx context.Context, caseID string, note string) (*domain.Case, error) {
	entry, err := s.entry(caseID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	c := entry.c
	if c.Status != domain.CaseEscalated {
		return nil, fmt.Errorf("case %s: %w", caseID, domain.ErrCaseNotOpen)
	}

	now := time.Now().UTC()
	c.Status = domain.CaseClosed
	c.UpdatedAt = now
	c.AuditTrail = append(c.AuditTrail, domain.AuditEntry{
		Stage:     "compliance",
		Event:     "signed_off",
		Detail:    note,
		Timestamp: now,
	})

	s.persist(ctx, c)

	return snapshot(c), nil
}

// AppendAudit records a stage transition on a case.
func (s *Store) AppendAudit(ctx context.Context, caseID string, audit domain.AuditEntry) error {
	entry, err := s.entry(caseID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if audit.Timestamp.IsZero() {
		audit.Timestamp = time.Now().UTC()
	}
	entry.c.AuditTrail = append(entry.c.AuditTrail, audit)
	entry.c.UpdatedAt = audit.Timestamp

	s.persist(ctx, entry.c)

	return nil
}

// Count returns the number of registered cases.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cases)
}

func (s *Store) entry(caseID string) (*caseEntry, error) {
	s.mu.RLock()
	entry, ok := s.cases[caseID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("case %s: %w", caseID, domain.ErrCaseNotFound)
	}
	return entry, nil
}

// persist writes through to the repository. Persistence failures are
// logged, not fatal: the in-memory registry stays authoritative for
// the process lifetime.
func (s *Store) persist(ctx context.Context, c *domain.Case) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SaveCase(ctx, c.TenantID, c); err != nil {
		slog.Error("failed to persist case",
			"case_id", c.ID,
			"error", err,
		)
	}
}

// snapshot deep-copies a case so callers never share mutable state
// with the registry.
func snapshot(c *domain.Case) *domain.Case {
	cp := *c
	cp.AuditTrail = append([]domain.AuditEntry(nil), c.AuditTrail...)
	if c.Disposition != nil {
		d := *c.Disposition
		d.Evidence = append([]domain.EvidenceFinding(nil), c.Disposition.Evidence...)
		cp.Disposition = &d
	}
	return &cp
}

func sortCases(cases []*domain.Case) {
	sort.Slice(cases, func(i, j int) bool {
		return cases[i].Seq < cases[j].Seq
	})
}
