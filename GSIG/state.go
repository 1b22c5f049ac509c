package gsig

import (
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/AUKUS561/GOSE/GROUP"
	"github.com/fentec-project/bn256"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// ErrUnknownMember is returned for operations on ids the GM never certified.
var ErrUnknownMember = xerrors.New("unknown member")

// Status of a member as seen by the GM.
type Status int

const (
	Unregistered Status = iota
	Certified
	// Detached members missed a push and are off the live roster. They are
	// not revoked and may catch up.
	Detached
	Revoked
)

func (s Status) String() string {
	switch s {
	case Certified:
		return "certified"
	case Detached:
		return "detached"
	case Revoked:
		return "revoked"
	default:
		return "unregistered"
	}
}

// Change is the outcome of a join or leave: the update every recipient
// must apply and, for a join, the new member's certificate.
type Change struct {
	Update      Update
	Recipients  []string
	Certificate *Certificate
}

// CatchUpReply carries the aggregate of every factor in (Since, Epoch].
type CatchUpReply struct {
	Since uint64
	Epoch uint64
	T     *big.Int
}

// GroupMembershipState is everything the GM mutates on join and leave:
// X, the cumulative exponent T, the update log and the roster. Readers
// always see a consistent (X, T) pair.
type GroupMembershipState struct {
	mu      sync.RWMutex
	pp      *group.PublicParameters
	mk      *group.MasterSecret
	total   *big.Int
	log     *UpdateLog
	members map[string]Status
	now     func() time.Time
}

func NewGroupMembershipState(pp *group.PublicParameters, mk *group.MasterSecret,
	historyLimit int) (*GroupMembershipState, error) {
	l, err := NewUpdateLog(historyLimit)
	if err != nil {
		return nil, err
	}
	return &GroupMembershipState{
		pp:      pp.Clone(),
		mk:      mk,
		total:   big.NewInt(1),
		log:     l,
		members: make(map[string]Status),
		now:     time.Now,
	}, nil
}

// Issue certifies members under the current T without advancing X. Used
// for the first cohort and for the GM's own certificate.
func (s *GroupMembershipState) Issue(ids ...string) ([]*Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	certs := make([]*Certificate, 0, len(ids))
	for _, id := range ids {
		if s.members[id] == Certified {
			return nil, group.Violation("member %s already certified", id)
		}
		ct, err := Issue(s.mk, s.total, id)
		if err != nil {
			return nil, err
		}
		certs = append(certs, ct)
	}
	for _, ct := range certs {
		s.members[ct.ID] = Certified
	}
	return certs, nil
}

// Join advances X and T, logs the factor and certifies id under the new T.
func (s *GroupMembershipState) Join(id string) (*Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.members[id]; st == Certified || st == Detached {
		return nil, group.Violation("member %s already %s", id, st)
	}
	t, err := group.RandomScalar()
	if err != nil {
		return nil, xerrors.Errorf("sampling blinding factor: %v", err)
	}
	total := new(big.Int).Mul(s.total, t)
	total.Mod(total, bn256.Order)
	ct, err := Issue(s.mk, total, id)
	if err != nil {
		return nil, err
	}

	u := s.advance(t, total)
	ch := &Change{Update: u, Recipients: s.roster(), Certificate: ct}
	s.members[id] = Certified
	log.Lvlf2("member %s joined at epoch %d, %d members to update", id, u.Epoch, len(ch.Recipients))
	return ch, nil
}

// Leave advances X and T without telling id, which revokes it.
func (s *GroupMembershipState) Leave(id string) (*Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.members[id] {
	case Certified, Detached:
	case Revoked:
		return nil, group.Violation("member %s already revoked", id)
	default:
		return nil, xerrors.Errorf("leave %s: %w", id, ErrUnknownMember)
	}
	t, err := group.RandomScalar()
	if err != nil {
		return nil, xerrors.Errorf("sampling blinding factor: %v", err)
	}
	total := new(big.Int).Mul(s.total, t)
	total.Mod(total, bn256.Order)

	s.members[id] = Revoked
	u := s.advance(t, total)
	log.Lvlf2("member %s left at epoch %d", id, u.Epoch)
	return &Change{Update: u, Recipients: s.roster()}, nil
}

func (s *GroupMembershipState) advance(t, total *big.Int) Update {
	s.pp.Advance(t)
	s.total = total
	return s.log.Append(t, s.now())
}

// roster lists certified members, sorted; callers hold the lock.
func (s *GroupMembershipState) roster() []string {
	var ids []string
	for id, st := range s.members {
		if st == Certified {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Detach drops a certified member from the live roster after a failed
// push. It returns false if the member was not certified.
func (s *GroupMembershipState) Detach(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[id] != Certified {
		return false
	}
	s.members[id] = Detached
	return true
}

// CatchUp returns the aggregate factor since the given epoch, provided ct
// belongs to a certified or detached member and was valid at that epoch.
// A detached member is put back on the roster. granted is false for
// revoked, unknown or forged requests.
func (s *GroupMembershipState) CatchUp(ct *Certificate, since uint64) (reply *CatchUpReply, granted bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ct == nil {
		return nil, false, nil
	}
	st := s.members[ct.ID]
	if st != Certified && st != Detached {
		return nil, false, nil
	}
	latest, agg, err := s.log.Aggregate(since)
	if err != nil {
		return nil, false, err
	}

	// X at epoch since = X^(1/agg)
	inv := new(big.Int).ModInverse(agg, bn256.Order)
	then := s.pp.Clone()
	then.X = new(bn256.G2).ScalarMult(s.pp.X, inv)
	if !Verify(then, ct) {
		return nil, false, nil
	}
	if st == Detached {
		s.members[ct.ID] = Certified
		log.Lvlf2("member %s caught up from epoch %d and is back on the roster", ct.ID, since)
	}
	return &CatchUpReply{Since: since, Epoch: latest, T: agg}, true, nil
}

// Aggregate returns the factor taking X from epoch since to the current
// one. Unlike CatchUp it checks no certificate; the GM uses it to bring
// the server back in step.
func (s *GroupMembershipState) Aggregate(since uint64) (*CatchUpReply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest, agg, err := s.log.Aggregate(since)
	if err != nil {
		return nil, err
	}
	return &CatchUpReply{Since: since, Epoch: latest, T: agg}, nil
}

// Verify checks ct against the current X.
func (s *GroupMembershipState) Verify(ct *Certificate) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Verify(s.pp, ct)
}

func (s *GroupMembershipState) Status(id string) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members[id]
}

func (s *GroupMembershipState) Roster() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roster()
}

// PublicParameters returns a snapshot together with its epoch.
func (s *GroupMembershipState) PublicParameters() (*group.PublicParameters, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pp.Clone(), s.log.Latest()
}

// Total returns the cumulative blinding exponent T.
func (s *GroupMembershipState) Total() *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return new(big.Int).Set(s.total)
}
