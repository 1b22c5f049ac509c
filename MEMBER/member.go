package member

import (
	"context"
	"sync"
	"time"

	"github.com/AUKUS561/GOSE/API"
	"github.com/AUKUS561/GOSE/AUTH"
	"github.com/AUKUS561/GOSE/GSIG"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// ErrNotJoined is returned by operations that need a certificate.
var ErrNotJoined = xerrors.New("member has not joined")

// Member is an ordinary group member: it receives pushes from the GM,
// keeps its certificate in step with X and uploads and searches through a
// Protocol.
type Member struct {
	id         string
	signer     *auth.KeyPair
	gm         api.GroupManagerAPI
	server     api.ServerAPI
	keyTimeout time.Duration

	mu      sync.Mutex
	state   *gsig.LocalCertificateState
	proto   *Protocol
	pending []gsig.Update
	stale   bool
}

var _ api.MemberAPI = (*Member)(nil)

func New(id string, gm api.GroupManagerAPI, server api.ServerAPI, keyTimeout time.Duration) *Member {
	return &Member{
		id:         id,
		signer:     auth.NewKeyPair(),
		gm:         gm,
		server:     server,
		keyTimeout: keyTimeout,
	}
}

func (m *Member) ID() string {
	return m.id
}

// Join asks the GM for a certificate and the group secret.
func (m *Member) Join(ctx context.Context) error {
	reply, err := m.gm.Join(ctx, &api.JoinRequest{Member: m, PublicKey: m.signer.Public})
	if err != nil {
		return xerrors.Errorf("joining: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = gsig.NewLocalCertificateState(reply.PublicParameters, reply.Certificate, reply.Epoch)
	m.proto = NewProtocol(m.id, m.state, reply.GroupSecret, m.signer, m.server, m.gm, m.keyTimeout)

	// pushes that raced with the join reply
	for _, u := range m.pending {
		m.apply(u)
	}
	m.pending = nil
	log.Lvlf1("%s: joined at epoch %d", m.id, reply.Epoch)
	return nil
}

// Leave asks the GM to revoke this member.
func (m *Member) Leave(ctx context.Context) error {
	return m.gm.Leave(ctx, m.id)
}

// PushUpdate is called by the GM on every join and leave. A skipped epoch
// marks the member stale; it resyncs before its next operation instead of
// calling back into the GM from inside the push.
func (m *Member) PushUpdate(ctx context.Context, u gsig.Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		m.pending = append(m.pending, u)
		return nil
	}
	m.apply(u)
	return nil
}

// apply needs m.mu.
func (m *Member) apply(u gsig.Update) {
	err := m.state.Apply(u)
	switch {
	case err == nil:
	case xerrors.Is(err, gsig.ErrEpochGap):
		log.Warnf("%s: %v, will catch up", m.id, err)
		m.stale = true
	default:
		log.Errorf("%s: applying update %d: %v", m.id, u.Epoch, err)
		m.stale = true
	}
}

// Resync fetches the aggregate factor since the member's epoch. It returns
// StatusAccessDenied if the GM refuses, which is what a revoked member
// sees.
func (m *Member) Resync(ctx context.Context) (api.Status, error) {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	if state == nil {
		return api.StatusOK, ErrNotJoined
	}

	ct, _, since := state.Snapshot()
	reply, err := m.gm.CatchUp(ctx, &api.CatchUpRequest{Certificate: ct, Since: since})
	if err != nil {
		return api.StatusOK, xerrors.Errorf("catching up: %w", err)
	}
	if reply.Status != api.StatusOK {
		log.Lvlf2("%s: catch-up denied", m.id)
		return reply.Status, nil
	}
	if err := state.ApplyCatchUp(reply.Reply); err != nil {
		// a push got there first
		if xerrors.Is(err, gsig.ErrStaleCatchUp) {
			return m.Resync(ctx)
		}
		return api.StatusOK, err
	}

	m.mu.Lock()
	m.stale = false
	m.mu.Unlock()
	log.Lvlf2("%s: caught up from epoch %d to %d", m.id, since, reply.Reply.Epoch)
	return api.StatusOK, nil
}

// protocol returns the upload/search logic, resyncing first if a push was
// missed.
func (m *Member) protocol(ctx context.Context) (*Protocol, error) {
	m.mu.Lock()
	proto, stale := m.proto, m.stale
	m.mu.Unlock()
	if proto == nil {
		return nil, ErrNotJoined
	}
	if stale {
		if _, err := m.Resync(ctx); err != nil {
			return nil, err
		}
	}
	return proto, nil
}

func (m *Member) Upload(ctx context.Context, keywords []string, payload []byte) (*api.UploadReply, error) {
	proto, err := m.protocol(ctx)
	if err != nil {
		return nil, err
	}
	return proto.Upload(ctx, m.id, keywords, payload)
}

// Search runs a search; when the server denies it the member resyncs once,
// in case it was detached, and retries.
func (m *Member) Search(ctx context.Context, terms []string, owner string) (*SearchResult, error) {
	proto, err := m.protocol(ctx)
	if err != nil {
		return nil, err
	}
	res, err := proto.Search(ctx, terms, owner)
	if err != nil || res.Status == api.StatusOK {
		return res, err
	}
	st, err := m.Resync(ctx)
	if err != nil || st != api.StatusOK {
		return res, err
	}
	return proto.Search(ctx, terms, owner)
}

// Epoch is the epoch of the member's certificate.
func (m *Member) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return 0
	}
	return m.state.Epoch()
}

// Valid reports whether the certificate verifies against the member's X.
func (m *Member) Valid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != nil && m.state.Valid()
}
