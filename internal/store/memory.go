package store

import (
	"sort"
	"sync"
	"time"

	"github.com/glamlab/funnelbot/internal/models"
	"github.com/glamlab/funnelbot/internal/util"
)

// InMemoryStore implements Store entirely in memory. It exists for tests and
// throwaway runs; nothing survives a restart.
type InMemoryStore struct {
	mu           sync.Mutex
	leads        map[string]models.Lead
	log          []models.LogEntry
	dedup        map[string]time.Time
	dedupOrder   []string
	jobs         map[string]*Job
	intake       map[int64]*models.IntakeRow
	nextIntakeID int64
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		leads:        make(map[string]models.Lead),
		dedup:        make(map[string]time.Time),
		jobs:         make(map[string]*Job),
		intake:       make(map[int64]*models.IntakeRow),
		nextIntakeID: 1,
	}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) GetLead(phone string) (*models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[phone]
	if !ok {
		return nil, nil
	}
	cp := l
	return &cp, nil
}

func (s *InMemoryStore) SaveLead(lead models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[lead.Phone] = lead
	return nil
}

func (s *InMemoryStore) DeleteLead(phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leads, phone)
	kept := s.log[:0]
	for _, e := range s.log {
		if e.Lead != phone {
			kept = append(kept, e)
		}
	}
	s.log = kept
	return nil
}

func (s *InMemoryStore) ListLeads() ([]models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	leads := make([]models.Lead, 0, len(s.leads))
	for _, l := range s.leads {
		leads = append(leads, l)
	}
	sort.Slice(leads, func(i, j int) bool {
		return leads[i].UpdatedAt.After(leads[j].UpdatedAt)
	})
	return leads, nil
}

func (s *InMemoryStore) AddLogEntry(e models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, e)
	return nil
}

func (s *InMemoryStore) ListLogEntries(phone string) ([]models.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []models.LogEntry
	for _, e := range s.log {
		if e.Lead == phone {
			entries = append(entries, e)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

func (s *InMemoryStore) ListAllLogEntries() ([]models.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]models.LogEntry, len(s.log))
	copy(entries, s.log)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

func (s *InMemoryStore) ReassignLogEntries(fromPhone, toPhone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.log {
		if s.log[i].Lead == fromPhone {
			s.log[i].Lead = toPhone
		}
	}
	return nil
}

func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(messageID string) (bool, error) {
	if messageID == "" {
		return true, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = time.Now()
	s.dedupOrder = append(s.dedupOrder, messageID)
	if len(s.dedupOrder) > DedupMaxEntries {
		drop := len(s.dedupOrder) - DedupTargetEntries
		for _, id := range s.dedupOrder[:drop] {
			delete(s.dedup, id)
		}
		s.dedupOrder = append([]string(nil), s.dedupOrder[drop:]...)
	}
	return true, nil
}

func (s *InMemoryStore) EnqueueJob(kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, j := range s.jobs {
			if j.DedupeKey == dedupeKey && !isTerminalStatus(j.Status) {
				return j.ID, nil
			}
		}
	}
	now := time.Now()
	id := util.GenerateRandomID("job_", 32)
	s.jobs[id] = &Job{
		ID:          id,
		Kind:        kind,
		RunAt:       runAt,
		PayloadJSON: payloadJSON,
		Status:      JobStatusQueued,
		MaxAttempts: 3,
		DedupeKey:   dedupeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return id, nil
}

func (s *InMemoryStore) ClaimDueJobs(now time.Time, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Job
	for _, j := range s.jobs {
		if j.Status == JobStatusQueued && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	claimed := make([]Job, 0, len(due))
	for _, j := range due {
		j.Status = JobStatusRunning
		t := now
		j.LockedAt = &t
		j.UpdatedAt = now
		claimed = append(claimed, *j)
	}
	return claimed, nil
}

func (s *InMemoryStore) CompleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = JobStatusDone
		j.UpdatedAt = time.Now()
	}
	return nil
}

func (s *InMemoryStore) FailJob(id string, errMsg string, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	j.Attempt++
	j.LastError = errMsg
	j.LockedAt = nil
	j.UpdatedAt = time.Now()
	if j.Attempt >= j.MaxAttempts {
		j.Status = JobStatusFailed
	} else {
		j.Status = JobStatusQueued
		j.RunAt = nextRunAt
	}
	return nil
}

func (s *InMemoryStore) CancelJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = JobStatusCanceled
		j.LockedAt = nil
		j.UpdatedAt = time.Now()
	}
	return nil
}

func (s *InMemoryStore) CancelJobsByDedupeKey(dedupeKey string) (int, error) {
	if dedupeKey == "" {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.DedupeKey == dedupeKey && !isTerminalStatus(j.Status) {
			j.Status = JobStatusCanceled
			j.LockedAt = nil
			j.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) RequeueStaleRunningJobs(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == JobStatusRunning && j.LockedAt != nil && j.LockedAt.Before(staleBefore) {
			j.Status = JobStatusQueued
			j.LockedAt = nil
			j.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) GetJob(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (s *InMemoryStore) AddIntakeRow(row models.IntakeRow) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row.ID = s.nextIntakeID
	s.nextIntakeID++
	s.intake[row.ID] = &row
	return row.ID, nil
}

func (s *InMemoryStore) ListPendingIntake(limit int) ([]models.IntakeRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []models.IntakeRow
	for _, r := range s.intake {
		if r.DispatchedAt == nil {
			pending = append(pending, *r)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *InMemoryStore) MarkIntakeDispatched(id int64, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.intake[id]; ok {
		now := time.Now()
		r.DispatchedAt = &now
		r.Note = note
	}
	return nil
}

func isTerminalStatus(st JobStatus) bool {
	return st == JobStatusDone || st == JobStatusCanceled || st == JobStatusFailed
}
