package admin

import (
	"context"
	"errors"

	"github.com/MagnunAVF/link-engine/internal/link"
	"github.com/MagnunAVF/link-engine/internal/store"
)

type BulkAction string

const (
	BulkDelete      BulkAction = "delete"
	BulkPause       BulkAction = "pause"
	BulkResume      BulkAction = "resume"
	BulkChangeBatch BulkAction = "changeBatch"
)

type BulkRequest struct {
	Action  BulkAction
	LinkIDs []int64
	// BatchID is the target of changeBatch; nil removes the links from
	// their batch.
	BatchID *int64
}

type BulkResult struct {
	Count int64
	// Skipped lists links a resume left paused because their short code is
	// already active elsewhere.
	Skipped []int64
}

func (s *Service) Bulk(ctx context.Context, ownerID string, req BulkRequest) (BulkResult, error) {
	if len(req.LinkIDs) == 0 {
		return BulkResult{}, ErrEmptySelection
	}

	var (
		n   int64
		err error
	)
	switch req.Action {
	case BulkDelete:
		n, err = s.store.Delete(ctx, ownerID, req.LinkIDs)
	case BulkPause:
		n, err = s.store.SetPaused(ctx, ownerID, req.LinkIDs, true)
	case BulkResume:
		return s.resumeEach(ctx, ownerID, req.LinkIDs)
	case BulkChangeBatch:
		if req.BatchID != nil {
			if _, err := s.store.FindBatch(ctx, ownerID, *req.BatchID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return BulkResult{}, ErrUnknownBatch
				}
				return BulkResult{}, err
			}
		}
		n, err = s.store.SetBatch(ctx, ownerID, req.LinkIDs, req.BatchID)
	default:
		return BulkResult{}, ErrInvalidAction
	}
	if err != nil {
		return BulkResult{}, err
	}
	return BulkResult{Count: n}, nil
}

// resumeEach resumes links one at a time so that two selected links sharing
// a short code cannot both become active.
func (s *Service) resumeEach(ctx context.Context, ownerID string, ids []int64) (BulkResult, error) {
	var res BulkResult
	for _, id := range ids {
		err := s.SetPaused(ctx, ownerID, id, false)
		switch {
		case err == nil:
			res.Count++
		case errors.Is(err, link.ErrCollision):
			res.Skipped = append(res.Skipped, id)
		case errors.Is(err, store.ErrNotFound):
		default:
			return res, err
		}
	}
	return res, nil
}
