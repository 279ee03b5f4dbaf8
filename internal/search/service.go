package search

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auriora/wirefly/internal/peer"
	"github.com/auriora/wirefly/pkg/errors"
	"github.com/auriora/wirefly/pkg/logging"
)

// Hub event names published by the service.
const (
	EventCreated = "SearchCreated"
	EventUpdate  = "SearchUpdate"
	EventDeleted = "SearchDeleted"
)

// updateInterval bounds how often streaming counter updates hit the
// database and the hub, per search.
const updateInterval = 250 * time.Millisecond

// Broadcaster pushes events to connected user interfaces.
type Broadcaster interface {
	Broadcast(event string, payload interface{})
}

// liveSearch is the mutable in-flight state of one search. The record is
// guarded by mu; the cancel handle trips the peer-side search.
type liveSearch struct {
	mu     sync.Mutex
	record Search
	cancel context.CancelFunc
}

// Service owns the search lifecycle. At most one search may be started at a
// time per process; overlapping starts are refused as busy.
type Service struct {
	client peer.Client
	store  *Store
	hub    Broadcaster
	coal   *coalescer

	mu   sync.Mutex
	live map[uuid.UUID]*liveSearch

	startSem chan struct{}
}

// NewService wires the search service.
func NewService(client peer.Client, store *Store, hub Broadcaster) *Service {
	s := &Service{
		client:   client,
		store:    store,
		hub:      hub,
		live:     make(map[uuid.UUID]*liveSearch),
		startSem: make(chan struct{}, 1),
	}
	s.coal = newCoalescer(updateInterval, s.flushCounters)
	return s
}

// Start begins a distributed search and returns its initial record. The
// search itself runs in the background until a terminal event; progress is
// persisted and broadcast continuously.
func (s *Service) Start(ctx context.Context, id uuid.UUID, searchText string, scope peer.Scope, opts peer.SearchOptions) (Search, error) {
	if searchText == "" {
		return Search{}, errors.NewValidationError("search text is required", nil)
	}
	if id == uuid.Nil {
		id = uuid.New()
	}

	select {
	case s.startSem <- struct{}{}:
	default:
		return Search{}, errors.NewResourceBusyError("a search is already in progress", nil)
	}

	token := s.client.NextToken()
	s.mu.Lock()
	for _, lv := range s.live {
		lv.mu.Lock()
		dup := lv.record.Token == token
		lv.mu.Unlock()
		if dup {
			s.mu.Unlock()
			<-s.startSem
			return Search{}, errors.NewValidationError("duplicate search token", nil)
		}
	}
	s.mu.Unlock()

	record := Search{
		ID:         id,
		SearchText: searchText,
		Token:      token,
		State:      StateRequested,
		StateText:  StateRequested.String(),
		StartedAt:  time.Now().UTC(),
	}
	if err := s.store.Upsert(ctx, record); err != nil {
		<-s.startSem
		return Search{}, err
	}
	s.hub.Broadcast(EventCreated, record)

	searchCtx, cancel := context.WithCancel(context.Background())
	events, err := s.client.Search(searchCtx, searchText, token, scope, opts)
	if err != nil {
		cancel()
		record.State = StateRequested | StateErrored
		record.StateText = record.State.String()
		now := time.Now().UTC()
		record.EndedAt = &now
		if persistErr := s.store.Upsert(ctx, record); persistErr != nil {
			logging.Error().Err(persistErr).Str("id", id.String()).
				Msg("Could not persist failed search")
		}
		s.hub.Broadcast(EventUpdate, record.WithoutResponses())
		<-s.startSem
		return Search{}, errors.Wrap(err, "starting network search")
	}

	lv := &liveSearch{record: record, cancel: cancel}
	s.mu.Lock()
	s.live[id] = lv
	s.mu.Unlock()

	logging.Info().
		Str("id", id.String()).
		Str("searchText", searchText).
		Int("token", token).
		Msg("Search started")

	go s.run(lv, events)
	return record, nil
}

// run consumes the event stream of one search until its terminal event.
func (s *Service) run(lv *liveSearch, events <-chan peer.SearchEvent) {
	lv.mu.Lock()
	id := lv.record.ID
	lv.record.State = StateRequested | StateInProgress
	lv.record.StateText = lv.record.State.String()
	lv.mu.Unlock()
	s.coal.Trigger(id.String())

	var done peer.SearchDone
	for event := range events {
		if event.Response != nil {
			lv.mu.Lock()
			lv.record.Responses = append(lv.record.Responses, *event.Response)
			lv.record.ResponseCount++
			lv.record.FileCount += event.Response.FileCount()
			lv.record.LockedFileCount += event.Response.LockedFileCount()
			lv.mu.Unlock()
			s.coal.Trigger(id.String())
		}
		if event.Done != nil {
			done = *event.Done
		}
	}
	s.finish(lv, done)
}

// finish applies the terminal transition: flush the last coalesced counter
// write, persist the full record with its responses blob, then broadcast
// the final update with responses elided. A persistence failure here is
// surfaced in the log but never suppresses the final broadcast, so UIs
// still converge.
func (s *Service) finish(lv *liveSearch, done peer.SearchDone) {
	id := lv.record.ID
	s.coal.Flush(id.String())
	s.coal.Forget(id.String())

	now := time.Now().UTC()
	lv.mu.Lock()
	lv.record.State = (lv.record.State &^ StateInProgress) | stateForReason(done.Reason)
	lv.record.StateText = lv.record.State.String()
	lv.record.EndedAt = &now
	record := lv.record
	lv.mu.Unlock()

	if done.Err != nil {
		logging.Warn().Err(done.Err).Str("id", id.String()).Msg("Search ended with error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.Upsert(ctx, record); err != nil {
		logging.Error().Err(err).Str("id", id.String()).
			Msg("Could not persist search terminal state")
	}
	s.hub.Broadcast(EventUpdate, record.WithoutResponses())

	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()
	<-s.startSem

	logging.Info().
		Str("id", id.String()).
		Str("state", record.StateText).
		Int("responses", record.ResponseCount).
		Int("files", record.FileCount).
		Msg("Search ended")
}

// flushCounters is the coalescer's dispatch: one database write and one hub
// broadcast carrying the latest counters. Persistence failures on this path
// are logged and swallowed; later writes may succeed.
func (s *Service) flushCounters(key string) {
	id, err := uuid.Parse(key)
	if err != nil {
		return
	}
	s.mu.Lock()
	lv, ok := s.live[id]
	s.mu.Unlock()
	if !ok {
		return
	}

	lv.mu.Lock()
	record := lv.record.WithoutResponses()
	lv.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Upsert(ctx, record); err != nil {
		logging.Warn().Err(err).Str("id", key).Msg("Could not persist search progress")
	}
	s.hub.Broadcast(EventUpdate, record)
}

// TryCancel trips the cancellation handle of a live search. It returns
// whether a handle existed; the terminal transition itself arrives through
// the event stream.
func (s *Service) TryCancel(id uuid.UUID) bool {
	s.mu.Lock()
	lv, ok := s.live[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	lv.cancel()
	logging.Info().Str("id", id.String()).Msg("Search cancellation requested")
	return true
}

// ForceCancel terminally cancels a search whose handle is gone but whose
// record never progressed, persists it and broadcasts the update.
func (s *Service) ForceCancel(ctx context.Context, record Search) (Search, error) {
	now := time.Now().UTC()
	record.State = (record.State &^ StateInProgress) | StateCompleted | StateCancelled
	record.StateText = record.State.String()
	record.EndedAt = &now

	err := s.store.Upsert(ctx, record)
	if err != nil {
		logging.Error().Err(err).Str("id", record.ID.String()).
			Msg("Could not persist forced cancellation")
	}
	s.hub.Broadcast(EventUpdate, record.WithoutResponses())
	return record, err
}

// Delete removes a search record and broadcasts the deletion. Callers must
// not delete an active search; Active exists for that check.
func (s *Service) Delete(ctx context.Context, record Search) error {
	if err := s.store.Delete(ctx, record.ID); err != nil {
		return err
	}
	s.hub.Broadcast(EventDeleted, record.WithoutResponses())
	return nil
}

// Active reports whether the search is still live in this process.
func (s *Service) Active(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live[id]
	return ok
}

// Find returns one search; responses are stripped unless requested.
func (s *Service) Find(ctx context.Context, id uuid.UUID, includeResponses bool) (Search, error) {
	return s.store.Find(ctx, id, includeResponses)
}

// List returns every search with responses stripped.
func (s *Service) List(ctx context.Context) ([]Search, error) {
	return s.store.List(ctx)
}
