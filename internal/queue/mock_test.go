package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-outreach/internal/model"
	"github.com/sells-group/prospect-outreach/internal/store"
)

// memStore is an in-memory JobStore with the same claim semantics as the
// Postgres store: a claim is a single guarded pending -> processing move.
type memStore struct {
	mu       sync.Mutex
	jobs     map[string]*model.QueueJob
	order    []string
	runAfter map[string]time.Time
	seq      int
	now      func() time.Time

	staleEmails   int64
	cleanupBefore time.Time
}

func newMemStore() *memStore {
	return &memStore{
		jobs:     map[string]*model.QueueJob{},
		runAfter: map[string]time.Time{},
		now:      time.Now,
	}
}

func (m *memStore) EnqueueJob(_ context.Context, jobType string, payload any) (*model.QueueJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	m.seq++
	j := &model.QueueJob{
		ID:        fmt.Sprintf("job-%03d", m.seq),
		JobType:   jobType,
		Status:    model.JobPending,
		Payload:   raw,
		CreatedAt: m.now(),
	}
	m.jobs[j.ID] = j
	m.order = append(m.order, j.ID)
	cp := *j
	return &cp, nil
}

func (m *memStore) claim(j *model.QueueJob) *model.QueueJob {
	now := m.now()
	j.Status = model.JobProcessing
	j.Attempts++
	j.StartedAt = &now
	cp := *j
	return &cp
}

func (m *memStore) ClaimJob(_ context.Context, jobTypes []string) (*model.QueueJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		j := m.jobs[id]
		if j.Status != model.JobPending || m.runAfter[id].After(m.now()) {
			continue
		}
		if len(jobTypes) > 0 && !contains(jobTypes, j.JobType) {
			continue
		}
		return m.claim(j), nil
	}
	return nil, nil
}

func (m *memStore) ClaimJobByID(_ context.Context, id string) (*model.QueueJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != model.JobPending {
		return nil, eris.Wrapf(store.ErrNotFound, "postgres: claim job %s", id)
	}
	return m.claim(j), nil
}

func (m *memStore) CompleteJob(_ context.Context, id string, result any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	now := m.now()
	j := m.jobs[id]
	if j == nil || j.Status != model.JobProcessing {
		return eris.Wrapf(store.ErrClaimLost, "mem: %s job %s", "CompleteJob", id)
	}
	j.Status = model.JobCompleted
	j.Result = raw
	j.CompletedAt = &now
	return nil
}

func (m *memStore) RetryJob(_ context.Context, id, reason string, runAfter time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	if j == nil || j.Status != model.JobProcessing {
		return eris.Wrapf(store.ErrClaimLost, "mem: %s job %s", "RetryJob", id)
	}
	j.Status = model.JobPending
	j.Error = &reason
	m.runAfter[id] = runAfter
	return nil
}

func (m *memStore) FailJob(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	j := m.jobs[id]
	if j == nil || j.Status != model.JobProcessing {
		return eris.Wrapf(store.ErrClaimLost, "mem: %s job %s", "FailJob", id)
	}
	j.Status = model.JobFailed
	j.Error = &reason
	j.CompletedAt = &now
	return nil
}

func (m *memStore) GetJob(_ context.Context, id string) (*model.QueueJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memStore) ReclaimStaleJobs(_ context.Context, olderThan time.Time, maxAttempts int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, j := range m.jobs {
		if j.Status != model.JobProcessing || j.StartedAt == nil || !j.StartedAt.Before(olderThan) {
			continue
		}
		if j.Attempts >= maxAttempts {
			j.Status = model.JobFailed
		} else {
			j.Status = model.JobPending
		}
		n++
	}
	return n, nil
}

func (m *memStore) ReclaimStaleEmails(_ context.Context, _ time.Time) (int64, error) {
	return m.staleEmails, nil
}

func (m *memStore) CleanupJobs(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupBefore = olderThan
	var n int64
	for id, j := range m.jobs {
		if (j.Status == model.JobCompleted || j.Status == model.JobFailed) && j.CompletedAt != nil && j.CompletedAt.Before(olderThan) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) status(id string) model.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id].Status
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type memLeases struct {
	mu     sync.Mutex
	owners map[string]string
	err    error
}

func (l *memLeases) AcquireLease(_ context.Context, name, owner string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.owners == nil {
		l.owners = map[string]string{}
	}
	if cur, ok := l.owners[name]; ok && cur != owner {
		return false, nil
	}
	l.owners[name] = owner
	return true, nil
}

func (l *memLeases) ReleaseLease(_ context.Context, name, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owners[name] == owner {
		delete(l.owners, name)
	}
	return nil
}
