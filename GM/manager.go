package gm

import (
	"context"
	"sync"
	"time"

	"github.com/AUKUS561/GOSE/API"
	"github.com/AUKUS561/GOSE/AUTH"
	"github.com/AUKUS561/GOSE/GROUP"
	"github.com/AUKUS561/GOSE/GSIG"
	"github.com/AUKUS561/GOSE/KEM"
	"github.com/AUKUS561/GOSE/MEMBER"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// DefaultPushTimeout bounds a single update push.
const DefaultPushTimeout = 2 * time.Second

// Config is what the GM needs at start-up. PP, GS and MK come from
// group.Setup; the server must already know Signer's public key.
type Config struct {
	ID           string
	PP           *group.PublicParameters
	GS           *group.GroupSecret
	MK           *group.MasterSecret
	Signer       *auth.KeyPair
	Server       api.ServerAPI
	HistoryLimit int
	PushTimeout  time.Duration
	KeyTimeout   time.Duration
}

// Manager is the group manager. It admits and revokes members, pushes
// updates, answers catch-up and partial-key requests and can search the
// store on its own certificate.
type Manager struct {
	id          string
	gs          *group.GroupSecret
	mk          *group.MasterSecret
	signer      *auth.KeyPair
	server      api.ServerAPI
	pushTimeout time.Duration

	// opMu serialises whole joins, leaves and catch-ups, fan-out included,
	// so members see consecutive epochs in order.
	opMu  sync.Mutex
	state *gsig.GroupMembershipState

	mu      sync.RWMutex
	members map[string]api.MemberAPI

	self  *gsig.LocalCertificateState
	proto *member.Protocol
}

var _ api.GroupManagerAPI = (*Manager)(nil)

func New(c Config) (*Manager, error) {
	if c.ID == "" || c.PP == nil || c.GS == nil || c.MK == nil || c.Signer == nil || c.Server == nil {
		return nil, xerrors.Errorf("incomplete GM config: %w", group.ErrFatalSetup)
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = DefaultPushTimeout
	}
	state, err := gsig.NewGroupMembershipState(c.PP, c.MK, c.HistoryLimit)
	if err != nil {
		return nil, err
	}
	certs, err := state.Issue(c.ID)
	if err != nil {
		return nil, err
	}
	pp, epoch := state.PublicParameters()

	m := &Manager{
		id:          c.ID,
		gs:          c.GS,
		mk:          c.MK,
		signer:      c.Signer,
		server:      c.Server,
		pushTimeout: c.PushTimeout,
		state:       state,
		members:     make(map[string]api.MemberAPI),
		self:        gsig.NewLocalCertificateState(pp, certs[0], epoch),
	}
	m.proto = member.NewProtocol(c.ID, m.self, c.GS, c.Signer, c.Server, m, c.KeyTimeout)
	log.Lvlf1("gm %s: ready, l=%d", c.ID, pp.L)
	return m, nil
}

// Join admits a member: X advances, everyone on the roster is pushed the
// factor and the newcomer gets a certificate under the new X.
func (m *Manager) Join(ctx context.Context, req *api.JoinRequest) (*api.JoinReply, error) {
	if req == nil || req.Member == nil || req.PublicKey == nil {
		return nil, group.Violation("incomplete join request")
	}
	id := req.Member.ID()
	if id == m.id {
		return nil, group.Violation("%s is the group manager", id)
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	// checked before the server sees the key, so a refused join leaves the
	// live member's registration alone
	if st := m.state.Status(id); st == gsig.Certified || st == gsig.Detached {
		return nil, group.Violation("member %s already %s", id, st)
	}
	if err := m.server.RegisterMember(ctx, id, req.PublicKey); err != nil {
		return nil, xerrors.Errorf("registering %s: %w", id, err)
	}
	ch, err := m.state.Join(id)
	if err != nil {
		return nil, err
	}
	m.fanOut(ctx, ch)

	m.mu.Lock()
	m.members[id] = req.Member
	m.mu.Unlock()
	joinsTotal.Inc()

	pp, epoch := m.state.PublicParameters()
	return &api.JoinReply{PublicParameters: pp, GroupSecret: m.gs, Certificate: ch.Certificate, Epoch: epoch}, nil
}

// Leave revokes id. The member is not told; its certificate stops
// verifying as soon as X advances.
func (m *Manager) Leave(ctx context.Context, id string) error {
	if id == m.id {
		return group.Violation("the group manager cannot leave")
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()

	ch, err := m.state.Leave(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.members, id)
	m.mu.Unlock()
	m.fanOut(ctx, ch)
	leavesTotal.Inc()
	return nil
}

// fanOut pushes the update to every recipient and the server in parallel.
// A push that fails or times out detaches the recipient; the operation
// itself still succeeds. Callers hold opMu.
func (m *Manager) fanOut(ctx context.Context, ch *gsig.Change) {
	var wg sync.WaitGroup
	for _, id := range ch.Recipients {
		if id == m.id {
			if err := m.self.Apply(ch.Update); err != nil {
				log.Errorf("gm: applying own update %d: %v", ch.Update.Epoch, err)
			}
			continue
		}
		m.mu.RLock()
		target := m.members[id]
		m.mu.RUnlock()

		wg.Add(1)
		go func(id string, target api.MemberAPI) {
			defer wg.Done()
			if err := m.push(ctx, target, ch.Update); err != nil {
				pushFailuresTotal.Inc()
				m.state.Detach(id)
				log.Warnf("gm: push of epoch %d to %s failed, detached: %v", ch.Update.Epoch, id, err)
			}
		}(id, target)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		pctx, cancel := context.WithTimeout(ctx, m.pushTimeout)
		defer cancel()
		if err := m.server.AdvanceX(pctx, ch.Update); err != nil {
			serverSyncsTotal.Inc()
			log.Warnf("gm: advancing server X to epoch %d: %v", ch.Update.Epoch, err)
			sctx, scancel := context.WithTimeout(ctx, m.pushTimeout)
			defer scancel()
			if err := m.syncServer(sctx); err != nil {
				log.Errorf("gm: server left behind epoch %d: %v", ch.Update.Epoch, err)
			}
		}
	}()
	wg.Wait()
	log.Lvlf2("gm: epoch %d delivered", ch.Update.Epoch)
}

// syncServer brings the server's X to the current epoch with one
// aggregate factor. Callers hold opMu.
func (m *Manager) syncServer(ctx context.Context) error {
	have, err := m.server.Epoch(ctx)
	if err != nil {
		return err
	}
	_, latest := m.state.PublicParameters()
	if have == latest {
		return nil
	}
	r, err := m.state.Aggregate(have)
	if err != nil {
		return err
	}
	return m.server.CatchUpX(ctx, r)
}

func (m *Manager) push(ctx context.Context, target api.MemberAPI, u gsig.Update) error {
	if target == nil {
		return api.ErrUnreachable
	}
	pctx, cancel := context.WithTimeout(ctx, m.pushTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- target.PushUpdate(pctx, u) }()
	select {
	case err := <-done:
		return err
	case <-pctx.Done():
		return xerrors.Errorf("%v: %w", pctx.Err(), api.ErrUnreachable)
	}
}

// CatchUp answers a member that missed pushes. Revoked members and stale
// or forged certificates are denied.
func (m *Manager) CatchUp(ctx context.Context, req *api.CatchUpRequest) (*api.CatchUpReply, error) {
	if req == nil {
		return nil, group.Violation("empty catch-up request")
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()

	reply, granted, err := m.state.CatchUp(req.Certificate, req.Since)
	if err != nil {
		return nil, err
	}
	if !granted {
		accessDeniedTotal.Inc()
		log.Lvlf2("gm: catch-up from epoch %d denied", req.Since)
		return &api.CatchUpReply{Status: api.StatusAccessDenied}, nil
	}
	return &api.CatchUpReply{Status: api.StatusOK, Reply: reply}, nil
}

// IssueKey verifies the certificate against the live X and, only then,
// computes the partial key on the blinded U'.
func (m *Manager) IssueKey(ctx context.Context, req *api.KeyRequest) (*api.KeyReply, error) {
	if req == nil {
		return nil, group.Violation("empty key request")
	}
	if err := ctx.Err(); err != nil {
		return nil, xerrors.Errorf("%v: %w", err, api.ErrUnreachable)
	}
	type result struct {
		reply *api.KeyReply
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := m.issueKey(req)
		done <- result{reply, err}
	}()
	select {
	case r := <-done:
		return r.reply, r.err
	case <-ctx.Done():
		return nil, xerrors.Errorf("%v: %w", ctx.Err(), api.ErrUnreachable)
	}
}

func (m *Manager) issueKey(req *api.KeyRequest) (*api.KeyReply, error) {
	if !m.state.Verify(req.Certificate) {
		accessDeniedTotal.Inc()
		log.Lvl2("gm: key request denied")
		return &api.KeyReply{Status: api.StatusAccessDenied}, nil
	}
	pp, _ := m.state.PublicParameters()
	pk, err := kem.IssueKey(pp, m.gs, m.mk, req.Aux)
	if err != nil {
		return nil, err
	}
	keysIssuedTotal.Inc()
	return &api.KeyReply{Status: api.StatusOK, Key: pk}, nil
}

func (m *Manager) PublicParameters(ctx context.Context) (*group.PublicParameters, uint64, error) {
	pp, epoch := m.state.PublicParameters()
	return pp, epoch, nil
}

func (m *Manager) PublicKey(ctx context.Context) (kyber.Point, error) {
	return m.signer.Public, nil
}

// Upload stores a document on behalf of owner, or of the GM itself when
// owner is empty. The index is bound to owner, so owner-filtered searches
// find it.
func (m *Manager) Upload(ctx context.Context, owner string, keywords []string, payload []byte) (*api.UploadReply, error) {
	if owner != "" && owner != m.id {
		if st := m.state.Status(owner); st != gsig.Certified && st != gsig.Detached {
			return nil, xerrors.Errorf("upload for %s: %w", owner, gsig.ErrUnknownMember)
		}
	}
	return m.proto.Upload(ctx, owner, keywords, payload)
}

// Search runs a search on the GM's own certificate. The server accepts the
// GM's signature for any request, so this reaches every document.
func (m *Manager) Search(ctx context.Context, terms []string, owner string) (*member.SearchResult, error) {
	return m.proto.Search(ctx, terms, owner)
}

// Status reports what the GM knows about id.
func (m *Manager) Status(id string) gsig.Status {
	return m.state.Status(id)
}

// Roster lists the members currently receiving pushes.
func (m *Manager) Roster() []string {
	return m.state.Roster()
}
