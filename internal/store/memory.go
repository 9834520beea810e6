package store

import (
	"container/list"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rendis/graphflow/pkg/schema"
)

type runEntry struct {
	result *schema.RunResult
	elem   *list.Element
}

// MemoryStore keeps everything in process memory. With a positive capacity,
// runs are evicted least-recently-used first; running runs are never evicted.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	runs     map[string]*runEntry
	lru      *list.List // front = most recently used run id
	events   map[string][]*Event
	jobs     map[string]*ScheduledJob
	eventSeq int64
}

// NewMemoryStore creates a MemoryStore. capacity <= 0 disables eviction.
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{
		capacity: capacity,
		runs:     make(map[string]*runEntry),
		lru:      list.New(),
		events:   make(map[string][]*Event),
		jobs:     make(map[string]*ScheduledJob),
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// --- Runs ---

func (s *MemoryStore) PutRun(ctx context.Context, r *schema.RunResult) error {
	if r == nil || r.RunID == "" {
		return schema.NewError(schema.ErrCodeValidation, "run result has no run id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cp := r.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.runs[r.RunID]; ok {
		e.result = cp
		s.lru.MoveToFront(e.elem)
	} else {
		s.runs[r.RunID] = &runEntry{result: cp, elem: s.lru.PushFront(r.RunID)}
	}
	s.evictLocked()
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, runID string) (*schema.RunResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.runs[runID]
	if !ok {
		return nil, storeNotFound("run", runID)
	}
	s.lru.MoveToFront(e.elem)
	return e.result.Clone(), nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, filter RunFilter) ([]*schema.RunResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	matched := make([]*schema.RunResult, 0, len(s.runs))
	for _, e := range s.runs {
		r := e.result
		if filter.GraphID != "" && r.GraphID != filter.GraphID {
			continue
		}
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		matched = append(matched, r.Clone())
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].StartedAt.Equal(matched[j].StartedAt) {
			return matched[i].RunID < matched[j].RunID
		}
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})
	return paginate(matched, filter.Offset, filter.Limit), nil
}

// Len returns the number of stored runs.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// evictLocked drops least recently used finished runs until within capacity.
func (s *MemoryStore) evictLocked() {
	if s.capacity <= 0 {
		return
	}
	for el := s.lru.Back(); el != nil && len(s.runs) > s.capacity; {
		prev := el.Prev()
		id := el.Value.(string)
		if e := s.runs[id]; e.result.Finished() {
			s.lru.Remove(el)
			delete(s.runs, id)
			delete(s.events, id)
		}
		el = prev
	}
}

// --- Events ---

func (s *MemoryStore) AppendEvent(ctx context.Context, event *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.eventSeq++
	event.ID = s.eventSeq
	event.Sequence = int64(len(s.events[event.RunID])) + 1
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	cp := *event
	s.events[event.RunID] = append(s.events[event.RunID], &cp)
	return nil
}

func (s *MemoryStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.events[runID]
	out := make([]*Event, 0, len(events))
	for _, ev := range events {
		if ev.Sequence > since {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- Scheduled Jobs ---

func (s *MemoryStore) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "scheduled job %q already exists", job.ID)
	}
	cp := job.clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.jobs[job.ID] = cp
	return nil
}

func (s *MemoryStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, storeNotFound("scheduled job", id)
	}
	return j.clone(), nil
}

func (s *MemoryStore) UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return storeNotFound("scheduled job", id)
	}
	update.apply(j)
	return nil
}

func (s *MemoryStore) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	out := make([]*ScheduledJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		if filter.Enabled != nil && j.Enabled != *filter.Enabled {
			continue
		}
		if filter.GraphID != "" && j.GraphID != filter.GraphID {
			continue
		}
		out = append(out, j.clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return paginate(out, 0, filter.Limit), nil
}

func (s *MemoryStore) DeleteScheduledJob(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return storeNotFound("scheduled job", id)
	}
	delete(s.jobs, id)
	return nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var _ Store = (*MemoryStore)(nil)
