package gsig

import (
	"math/big"
	"sync"

	"github.com/AUKUS561/GOSE/GROUP"
	"golang.org/x/xerrors"
)

// ParameterTracker is a participant's copy of the public parameters and
// the epoch it reflects. The server uses it for its X.
type ParameterTracker struct {
	mu    sync.RWMutex
	pp    *group.PublicParameters
	epoch uint64
}

func NewParameterTracker(pp *group.PublicParameters, epoch uint64) *ParameterTracker {
	return &ParameterTracker{pp: pp.Clone(), epoch: epoch}
}

// Apply advances X by one pushed update. Replays are ignored.
func (p *ParameterTracker) Apply(u Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ok, err := nextEpoch(p.epoch, u.Epoch)
	if !ok {
		return err
	}
	p.pp.Advance(u.T)
	p.epoch = u.Epoch
	return nil
}

// ApplyCatchUp advances X by an aggregate factor.
func (p *ParameterTracker) ApplyCatchUp(r *CatchUpReply) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := checkCatchUp(p.epoch, r); err != nil {
		return err
	}
	p.pp.Advance(r.T)
	p.epoch = r.Epoch
	return nil
}

func (p *ParameterTracker) Snapshot() (*group.PublicParameters, uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pp.Clone(), p.epoch
}

// Verify checks ct against the tracked X.
func (p *ParameterTracker) Verify(ct *Certificate) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Verify(p.pp, ct)
}

// LocalCertificateState is a member's certificate together with its copy of
// the public parameters; both move in one step.
type LocalCertificateState struct {
	mu    sync.RWMutex
	pp    *group.PublicParameters
	ct    *Certificate
	epoch uint64
}

func NewLocalCertificateState(pp *group.PublicParameters, ct *Certificate, epoch uint64) *LocalCertificateState {
	return &LocalCertificateState{pp: pp.Clone(), ct: ct.Clone(), epoch: epoch}
}

// Apply is the receiving end of a GM push: c := c^t and X := X^t.
func (l *LocalCertificateState) Apply(u Update) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	ok, err := nextEpoch(l.epoch, u.Epoch)
	if !ok {
		return err
	}
	l.advance(u.T)
	l.epoch = u.Epoch
	return nil
}

// ApplyCatchUp applies an aggregate factor obtained from the GM.
func (l *LocalCertificateState) ApplyCatchUp(r *CatchUpReply) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := checkCatchUp(l.epoch, r); err != nil {
		return err
	}
	l.advance(r.T)
	l.epoch = r.Epoch
	return nil
}

func (l *LocalCertificateState) advance(t *big.Int) {
	l.ct.Advance(t)
	l.pp.Advance(t)
}

// Snapshot returns copies of the certificate, parameters and epoch.
func (l *LocalCertificateState) Snapshot() (*Certificate, *group.PublicParameters, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ct.Clone(), l.pp.Clone(), l.epoch
}

func (l *LocalCertificateState) Epoch() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.epoch
}

// Valid runs Verify against the member's own copy of X.
func (l *LocalCertificateState) Valid() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Verify(l.pp, l.ct)
}

func nextEpoch(have, got uint64) (bool, error) {
	switch {
	case got <= have:
		return false, nil
	case got != have+1:
		return false, xerrors.Errorf("at epoch %d, got %d: %w", have, got, ErrEpochGap)
	}
	return true, nil
}

func checkCatchUp(have uint64, r *CatchUpReply) error {
	if r == nil || r.T == nil {
		return group.Violation("empty catch-up reply")
	}
	if r.Since != have {
		return xerrors.Errorf("catch-up from %d but at %d: %w", r.Since, have, ErrStaleCatchUp)
	}
	if r.Epoch < r.Since {
		return group.Violation("catch-up goes backwards")
	}
	return nil
}
