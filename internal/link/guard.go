package link

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MagnunAVF/link-engine/internal"
)

var ErrCollision = errors.New("another link with this short code is already active")

// ActiveFinder returns the owner's links under a short code that are active
// at now. The window must be evaluated by the finder, not after a capped read.
type ActiveFinder interface {
	FindActiveByOwnerAndShortCode(ctx context.Context, ownerID, shortCode string, now time.Time) ([]internal.Link, error)
}

// Guard keeps at most one active link per (owner, short code) at write time.
// The check and the following write are not isolated: two concurrent writers
// can both pass.
type Guard struct {
	finder ActiveFinder
	now    func() time.Time
}

func NewGuard(finder ActiveFinder, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{finder: finder, now: now}
}

// AssertNoActiveCollision fails with ErrCollision when a link other than
// excludeID, owned by ownerID and sharing shortCode, is active right now.
// Nothing is checked when the candidate itself would not be active.
// excludeID is 0 on create.
func (g *Guard) AssertNoActiveCollision(ctx context.Context, ownerID, shortCode string, candidateIsActive bool, excludeID int64) error {
	if !candidateIsActive {
		return nil
	}

	now := g.now()
	existing, err := g.finder.FindActiveByOwnerAndShortCode(ctx, ownerID, shortCode, now)
	if err != nil {
		return fmt.Errorf("find links for %q: %w", shortCode, err)
	}

	for i := range existing {
		if existing[i].ID == excludeID {
			continue
		}
		if IsActive(&existing[i], now) {
			return fmt.Errorf("%w: link %d", ErrCollision, existing[i].ID)
		}
	}
	return nil
}
