package eventlog

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type memoryState struct {
	events  []Event
	streams map[streamKey][]int
}

// MemoryStore keeps events in process. Readers load an immutable state
// through an atomic pointer and never wait on writers.
type MemoryStore struct {
	mu    sync.Mutex
	state atomic.Pointer[memoryState]
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.state.Store(&memoryState{streams: map[streamKey][]int{}})
	return s
}

// Append records event as the next entry of its stream.
func (s *MemoryStore) Append(ctx context.Context, event Event, expectedVersion int) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Load()
	key := streamKey{subjectType: event.SubjectType, subjectID: event.SubjectID}
	positions := cur.streams[key]
	version := len(positions)
	if expectedVersion != AnyVersion && expectedVersion != version {
		return Event{}, ConcurrentModification(event.SubjectType, expectedVersion, version)
	}

	event.Sequence = int64(len(cur.events)) + 1
	event.StreamVersion = version + 1

	// Appending past len never touches elements visible to older states.
	events := append(cur.events, event)
	streams := make(map[streamKey][]int, len(cur.streams)+1)
	for k, v := range cur.streams {
		streams[k] = v
	}
	streams[key] = append(positions[:len(positions):len(positions)], len(events)-1)

	s.state.Store(&memoryState{events: events, streams: streams})
	return event, nil
}

// ReadStream returns the events of one subject, oldest first.
func (s *MemoryStore) ReadStream(ctx context.Context, subjectType SubjectType, subjectID uuid.UUID) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := s.state.Load()
	positions := st.streams[streamKey{subjectType: subjectType, subjectID: subjectID}]
	out := make([]Event, 0, len(positions))
	for _, pos := range positions {
		out = append(out, st.events[pos])
	}
	return out, nil
}

// ReadBatch returns events in global order within (afterSequence, upToSequence].
func (s *MemoryStore) ReadBatch(ctx context.Context, afterSequence, upToSequence int64, limit int) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := s.state.Load()
	total := int64(len(st.events))
	if upToSequence <= 0 || upToSequence > total {
		upToSequence = total
	}
	if afterSequence < 0 {
		afterSequence = 0
	}
	if afterSequence >= upToSequence {
		return nil, nil
	}
	end := upToSequence
	if limit > 0 && afterSequence+int64(limit) < end {
		end = afterSequence + int64(limit)
	}
	out := make([]Event, end-afterSequence)
	copy(out, st.events[afterSequence:end])
	return out, nil
}

// LastSequence returns the sequence of the newest event, or 0 when empty.
func (s *MemoryStore) LastSequence(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return int64(len(s.state.Load().events)), nil
}

var _ Store = (*MemoryStore)(nil)
