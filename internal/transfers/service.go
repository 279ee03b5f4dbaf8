package transfers

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/auriora/wirefly/internal/options"
	"github.com/auriora/wirefly/internal/shares"
	"github.com/auriora/wirefly/pkg/errors"
	"github.com/auriora/wirefly/pkg/logging"
)

// copyChunk is the largest single grant requested from the governor while
// streaming upload bytes.
const copyChunk = 32 * 1024

// Service ties the transfer subsystems together: the in-memory tracker,
// the durable store, the upload slot queue, the upload governor and the
// share index. Peer-client transfer callbacks land here.
type Service struct {
	tracker  *Tracker
	store    *Store
	queue    *Queue
	governor *Governor
	shares   *shares.Index

	optsCancel func()
}

// NewService wires the transfer service and subscribes the queue and
// governor to configuration changes.
func NewService(tracker *Tracker, store *Store, queue *Queue, governor *Governor, index *shares.Index, opts *options.Stream) *Service {
	s := &Service{
		tracker:  tracker,
		store:    store,
		queue:    queue,
		governor: governor,
		shares:   index,
	}

	updates, cancel := opts.Subscribe()
	s.optsCancel = cancel
	go func() {
		for next := range updates {
			queue.Reconfigure(next)
			governor.Reconfigure(next)
		}
	}()
	return s
}

// Close drops the options subscription.
func (s *Service) Close() {
	if s.optsCancel != nil {
		s.optsCancel()
	}
}

// RequestUpload admits a remote peer's request for a shared file: the
// filename must resolve in the share index, and the same file must not
// already be in flight for the user. The transfer is tracked, persisted
// and enqueued.
func (s *Service) RequestUpload(ctx context.Context, username, filename string) (Transfer, error) {
	file, ok := s.shares.Resolve(filename)
	if !ok {
		return Transfer{}, errors.NewNotFoundError("file "+filename+" is not shared", nil)
	}
	if s.tracker.Contains(Upload, username, file.Filename) {
		return Transfer{}, errors.NewResourceBusyError(
			"upload of "+file.Filename+" to "+username+" already in flight", nil)
	}

	now := time.Now().UTC()
	transfer := Transfer{
		ID:               uuid.New().String(),
		Direction:        Upload,
		Username:         username,
		Filename:         file.Filename,
		Size:             file.Size,
		State:            StateRequested,
		StateDescription: StateRequested.Description(),
		RequestedAt:      now,
	}

	_, cancel := context.WithCancel(context.Background())
	s.tracker.AddOrUpdate(transfer, cancel)
	if err := s.store.Upsert(ctx, transfer); err != nil {
		s.tracker.TryRemove(Upload, username, transfer.ID)
		cancel()
		return Transfer{}, err
	}

	s.queue.Enqueue(&transfer)
	enqueued := time.Now().UTC()
	transfer.EnqueuedAt = &enqueued
	if err := transfer.Transition(StateQueued | StateRemotely); err != nil {
		return Transfer{}, err
	}
	s.tracker.AddOrUpdate(transfer, cancel)
	if err := s.store.Upsert(ctx, transfer); err != nil {
		logging.Error().Err(err).Str("id", transfer.ID).Msg("Could not persist queued upload")
	}

	logging.Info().
		Str("id", transfer.ID).
		Str("username", username).
		Str("filename", file.Filename).
		Int64("size", file.Size).
		Msg("Upload requested")
	return transfer, nil
}

// AwaitSlot marks the upload ready (the peer accepted it upstream) and
// blocks until the queue releases it to a slot or the context is
// cancelled. A cancelled wait removes the queue entry so nothing is
// orphaned.
func (s *Service) AwaitSlot(ctx context.Context, transfer Transfer) (Transfer, error) {
	released, err := s.queue.Ready(&transfer)
	if err != nil {
		return transfer, err
	}

	select {
	case <-released:
	case <-ctx.Done():
		s.queue.Remove(&transfer)
		return transfer, ctx.Err()
	}

	started := time.Now().UTC()
	transfer.StartedAt = &started
	if err := transfer.Transition(StateInProgress); err != nil {
		return transfer, err
	}
	if record, ok := s.tracker.TryGet(transfer.Direction, transfer.Username, transfer.ID); ok {
		s.tracker.AddOrUpdate(transfer, record.Cancel)
	}
	if err := s.store.Upsert(ctx, transfer); err != nil {
		logging.Error().Err(err).Str("id", transfer.ID).Msg("Could not persist started upload")
	}
	return transfer, nil
}

// Stream copies upload bytes from src to dst, paced by the remote user's
// group bucket. Unused grants flow back into the bucket.
func (s *Service) Stream(ctx context.Context, username string, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyChunk)
	var written int64
	for {
		granted, err := s.governor.GetBytes(ctx, username, copyChunk)
		if err != nil {
			return written, err
		}
		if granted > copyChunk {
			granted = copyChunk
		}

		n, readErr := src.Read(buf[:granted])
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				s.governor.ReturnBytes(username, granted, int64(n))
				return written, writeErr
			}
			written += int64(n)
		}
		s.governor.ReturnBytes(username, granted, int64(n))

		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// Finish applies a terminal state to a tracked transfer, frees its slot
// and persists the outcome.
func (s *Service) Finish(ctx context.Context, transfer Transfer, final State, exception error) (Transfer, error) {
	ended := time.Now().UTC()
	transfer.EndedAt = &ended
	if exception != nil {
		transfer.Exception = exception.Error()
	}
	if err := transfer.Transition(final); err != nil {
		return transfer, err
	}

	s.queue.Complete(&transfer)
	s.tracker.TryRemove(transfer.Direction, transfer.Username, transfer.ID)
	if err := s.store.Upsert(ctx, transfer); err != nil {
		return transfer, err
	}

	logging.Info().
		Str("id", transfer.ID).
		Str("state", transfer.StateDescription).
		Int64("bytes", transfer.BytesTransferred).
		Msg("Transfer finished")
	return transfer, nil
}

// Cancel trips a tracked transfer's cancellation handle and removes any
// queue entry. It reports whether a handle existed.
func (s *Service) Cancel(direction Direction, username, id string) bool {
	record, ok := s.tracker.TryGet(direction, username, id)
	if !ok {
		return false
	}
	if record.Cancel != nil {
		record.Cancel()
	}
	s.queue.Remove(&record.Transfer)
	return true
}

// Progress updates a tracked transfer's byte counters and re-persists it.
func (s *Service) Progress(ctx context.Context, transfer Transfer, bytesTransferred int64, averageSpeed float64) Transfer {
	transfer.BytesTransferred = bytesTransferred
	if transfer.BytesTransferred > transfer.Size {
		transfer.BytesTransferred = transfer.Size
	}
	transfer.AverageSpeed = averageSpeed
	if record, ok := s.tracker.TryGet(transfer.Direction, transfer.Username, transfer.ID); ok {
		s.tracker.AddOrUpdate(transfer, record.Cancel)
	}
	if err := s.store.Upsert(ctx, transfer); err != nil {
		logging.Warn().Err(err).Str("id", transfer.ID).Msg("Could not persist transfer progress")
	}
	return transfer
}

// List returns the persisted transfers for a direction.
func (s *Service) List(ctx context.Context, direction Direction, includeRemoved bool) ([]Transfer, error) {
	return s.store.List(ctx, direction, includeRemoved)
}

// Active returns live snapshots from the tracker.
func (s *Service) Active(direction Direction) []Transfer {
	return s.tracker.List(direction)
}
