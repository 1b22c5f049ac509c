package gsig

import (
	"math/big"
	"time"

	"github.com/AUKUS561/GOSE/GROUP"
	"github.com/fentec-project/bn256"
	"golang.org/x/xerrors"
)

// Unbounded keeps every blinding factor forever.
const Unbounded = -1

var (
	// ErrHistoryPruned means the factors a member needs to catch up are no
	// longer retained; it has to join again.
	ErrHistoryPruned = xerrors.New("update history pruned")
	// ErrEpochGap is returned when an update skips epochs; the receiver
	// must catch up instead.
	ErrEpochGap = xerrors.New("update skips epochs")
	// ErrStaleCatchUp is returned when a catch-up reply was computed for
	// an epoch the receiver has already moved past.
	ErrStaleCatchUp = xerrors.New("stale catch-up")
)

// Update is one blinding event: X := X^T and c := c^T for epoch Epoch.
// Epoch is the logical timestamp members use to catch up; Time is kept for
// operators.
type Update struct {
	Epoch uint64
	Time  time.Time
	T     *big.Int
}

// UpdateLog is the GM's ordered list of blinding factors. It is not safe
// for concurrent use; GroupMembershipState guards it.
type UpdateLog struct {
	limit   int
	entries []Update
	latest  uint64
	// every epoch <= horizon has been pruned
	horizon uint64
}

// NewUpdateLog needs an explicit retention: a positive number of entries or
// Unbounded.
func NewUpdateLog(limit int) (*UpdateLog, error) {
	if limit == 0 || limit < Unbounded {
		return nil, xerrors.Errorf("history limit must be positive or %d, got %d", Unbounded, limit)
	}
	return &UpdateLog{limit: limit}, nil
}

// Append records t as the next epoch and prunes past the retention limit.
func (l *UpdateLog) Append(t *big.Int, now time.Time) Update {
	l.latest++
	u := Update{Epoch: l.latest, Time: now, T: new(big.Int).Set(t)}
	l.entries = append(l.entries, u)
	if l.limit != Unbounded && len(l.entries) > l.limit {
		drop := len(l.entries) - l.limit
		l.horizon = l.entries[drop-1].Epoch
		l.entries = append([]Update(nil), l.entries[drop:]...)
	}
	return u
}

func (l *UpdateLog) Latest() uint64 {
	return l.latest
}

func (l *UpdateLog) Len() int {
	return len(l.entries)
}

// Aggregate folds every factor newer than since into one product.
func (l *UpdateLog) Aggregate(since uint64) (uint64, *big.Int, error) {
	if since > l.latest {
		return 0, nil, group.Violation("epoch %d is in the future (latest %d)", since, l.latest)
	}
	if since < l.horizon {
		return 0, nil, xerrors.Errorf("epoch %d older than retained horizon %d: %w",
			since, l.horizon, ErrHistoryPruned)
	}
	agg := big.NewInt(1)
	for _, u := range l.entries {
		if u.Epoch > since {
			agg.Mul(agg, u.T)
			agg.Mod(agg, bn256.Order)
		}
	}
	return l.latest, agg, nil
}
