package gm

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/AUKUS561/GOSE/API"
	"github.com/AUKUS561/GOSE/AUTH"
	"github.com/AUKUS561/GOSE/GROUP"
	"github.com/AUKUS561/GOSE/GSIG"
	"github.com/AUKUS561/GOSE/KEM"
	"github.com/AUKUS561/GOSE/MEMBER"
	"github.com/AUKUS561/GOSE/SERVER"
	"github.com/AUKUS561/GOSE/STORE"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

// flaky stands between the GM and a member and can drop pushes.
type flaky struct {
	api.MemberAPI
	mu      sync.Mutex
	offline bool
}

func (f *flaky) setOffline(v bool) {
	f.mu.Lock()
	f.offline = v
	f.mu.Unlock()
}

func (f *flaky) PushUpdate(ctx context.Context, u gsig.Update) error {
	f.mu.Lock()
	offline := f.offline
	f.mu.Unlock()
	if offline {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.MemberAPI.PushUpdate(ctx, u)
}

// proxy is what members see as the GM; it wraps their push endpoints.
type proxy struct {
	*Manager
	mu        sync.Mutex
	endpoints map[string]*flaky
}

func (p *proxy) Join(ctx context.Context, req *api.JoinRequest) (*api.JoinReply, error) {
	f := &flaky{MemberAPI: req.Member}
	p.mu.Lock()
	p.endpoints[req.Member.ID()] = f
	p.mu.Unlock()
	wrapped := *req
	wrapped.Member = f
	return p.Manager.Join(ctx, &wrapped)
}

func (p *proxy) endpoint(id string) *flaky {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endpoints[id]
}

// lossyServer drops the next drop AdvanceX calls.
type lossyServer struct {
	*server.Server
	mu   sync.Mutex
	drop int
}

func (s *lossyServer) AdvanceX(ctx context.Context, u gsig.Update) error {
	s.mu.Lock()
	dropped := s.drop > 0
	if dropped {
		s.drop--
	}
	s.mu.Unlock()
	if dropped {
		return api.ErrUnreachable
	}
	return s.Server.AdvanceX(ctx, u)
}

func (s *lossyServer) dropNext(n int) {
	s.mu.Lock()
	s.drop = n
	s.mu.Unlock()
}

func (s *lossyServer) epoch(t *testing.T) uint64 {
	e, err := s.Epoch(context.Background())
	require.NoError(t, err)
	return e
}

type fixture struct {
	gm     *proxy
	server *lossyServer
	gs     *group.GroupSecret
}

func newFixture(t *testing.T, historyLimit int) *fixture {
	pp, gs, mk, err := group.Setup(group.CurveBN256, 4)
	require.NoError(t, err)
	signer := auth.NewKeyPair()
	inner, err := server.New(pp, 0, signer.Public, store.NewMemStore(), 16)
	require.NoError(t, err)
	srv := &lossyServer{Server: inner}
	m, err := New(Config{
		ID:           "gm",
		PP:           pp,
		GS:           gs,
		MK:           mk,
		Signer:       signer,
		Server:       srv,
		HistoryLimit: historyLimit,
		PushTimeout:  100 * time.Millisecond,
		KeyTimeout:   time.Second,
	})
	require.NoError(t, err)
	return &fixture{gm: &proxy{Manager: m, endpoints: map[string]*flaky{}}, server: srv, gs: gs}
}

func (f *fixture) join(t *testing.T, id string) *member.Member {
	m := member.New(id, f.gm, f.server, time.Second)
	require.NoError(t, m.Join(context.Background()))
	return m
}

func TestJoinLeave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gsig.Unbounded)
	alice := f.join(t, "alice")
	bob := f.join(t, "bob")

	require.Equal(t, []string{"alice", "bob", "gm"}, f.gm.Roster())
	require.True(t, alice.Valid())
	require.True(t, bob.Valid())
	require.Equal(t, uint64(2), alice.Epoch())
	require.Equal(t, uint64(2), f.server.epoch(t))

	require.NoError(t, bob.Leave(ctx))
	require.Equal(t, gsig.Revoked, f.gm.Status("bob"))
	require.True(t, alice.Valid())
	require.Equal(t, uint64(3), alice.Epoch())
	require.Equal(t, uint64(2), bob.Epoch(), "a leaving member is not told")

	require.True(t, xerrors.Is(f.gm.Leave(ctx, "bob"), group.ErrProtocolViolation))
	require.True(t, xerrors.Is(f.gm.Leave(ctx, "nobody"), gsig.ErrUnknownMember))
	require.True(t, xerrors.Is(f.gm.Leave(ctx, "gm"), group.ErrProtocolViolation))
	_, err := f.gm.Join(ctx, nil)
	require.True(t, xerrors.Is(err, group.ErrProtocolViolation))
}

func TestUnreachableMemberIsDetachedAndResyncs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gsig.Unbounded)
	alice := f.join(t, "alice")
	bob := f.join(t, "bob")

	f.gm.endpoint("bob").setOffline(true)
	start := time.Now()
	f.join(t, "carol")
	require.True(t, time.Since(start) < 5*time.Second, "join must not wait for bob")
	require.Equal(t, gsig.Detached, f.gm.Status("bob"))
	require.NotContains(t, f.gm.Roster(), "bob")
	require.Equal(t, uint64(2), bob.Epoch())
	f.gm.endpoint("bob").setOffline(false)

	_, err := alice.Upload(ctx, []string{"gold"}, []byte("report"))
	require.NoError(t, err)

	// the server refuses bob's stale certificate; bob catches up and retries
	res, err := bob.Search(ctx, []string{"gold"}, "")
	require.NoError(t, err)
	require.Equal(t, api.StatusOK, res.Status)
	require.Len(t, res.Documents, 1)
	require.Equal(t, []byte("report"), res.Documents[0].Plaintext)
	require.Equal(t, uint64(3), bob.Epoch())
	require.Equal(t, gsig.Certified, f.gm.Status("bob"))
	require.Contains(t, f.gm.Roster(), "bob")
}

func TestCatchUpAfterPruning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	f.join(t, "alice")
	bob := f.join(t, "bob")

	f.gm.endpoint("bob").setOffline(true)
	f.join(t, "carol")
	f.join(t, "dave")
	f.gm.endpoint("bob").setOffline(false)

	_, err := bob.Resync(ctx)
	require.True(t, xerrors.Is(err, gsig.ErrHistoryPruned))
}

func TestIssueKeyGatedByVerify(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gsig.Unbounded)
	pp, _, err := f.gm.PublicParameters(ctx)
	require.NoError(t, err)

	// a certificate the GM never issued
	_, _, otherMK, err := group.Setup(group.CurveBN256, 4)
	require.NoError(t, err)
	forged, err := gsig.Issue(otherMK, big.NewInt(1), "mallory")
	require.NoError(t, err)

	ek, err := kem.Wrap(f.gs, []byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	aux, nu, err := kem.RequestAux(ek)
	require.NoError(t, err)

	reply, err := f.gm.IssueKey(ctx, &api.KeyRequest{Certificate: forged, Aux: aux})
	require.NoError(t, err)
	require.Equal(t, api.StatusAccessDenied, reply.Status)
	require.Nil(t, reply.Key)

	reply, err = f.gm.IssueKey(ctx, &api.KeyRequest{Certificate: nil, Aux: aux})
	require.NoError(t, err)
	require.Equal(t, api.StatusAccessDenied, reply.Status)

	// the GM's own certificate passes
	ct, _, _ := f.gm.self.Snapshot()
	reply, err = f.gm.IssueKey(ctx, &api.KeyRequest{Certificate: ct, Aux: aux})
	require.NoError(t, err)
	require.Equal(t, api.StatusOK, reply.Status)
	require.NoError(t, kem.VerifyPartialKey(pp, f.gs, aux, reply.Key))
	r, err := kem.Unwrap(f.gs, ek, reply.Key.D, nu)
	require.NoError(t, err)
	require.Equal(t, []byte("0123456789abcdef0123456789abcdef"), r)

	cu, err := f.gm.CatchUp(ctx, &api.CatchUpRequest{Certificate: forged, Since: 0})
	require.NoError(t, err)
	require.Equal(t, api.StatusAccessDenied, cu.Status)
}

func TestRevokedMemberIsDenied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gsig.Unbounded)
	alice := f.join(t, "alice")
	carol := f.join(t, "carol")
	_, err := alice.Upload(ctx, []string{"gold"}, []byte("report"))
	require.NoError(t, err)

	res, err := carol.Search(ctx, []string{"gold"}, "")
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)

	require.NoError(t, carol.Leave(ctx))
	res, err = carol.Search(ctx, []string{"gold"}, "")
	require.NoError(t, err)
	require.Equal(t, api.StatusAccessDenied, res.Status)
	require.Empty(t, res.Documents)

	st, err := carol.Resync(ctx)
	require.NoError(t, err)
	require.Equal(t, api.StatusAccessDenied, st)
}

func TestDuplicateJoinKeepsRegistration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gsig.Unbounded)
	alice := f.join(t, "alice")
	bob := f.join(t, "bob")
	_, err := alice.Upload(ctx, []string{"gold"}, []byte("report"))
	require.NoError(t, err)

	// a second party claiming alice's id is refused before the server
	// learns its key
	impostor := member.New("alice", f.gm, f.server, time.Second)
	require.True(t, xerrors.Is(impostor.Join(ctx), group.ErrProtocolViolation))
	require.Equal(t, uint64(2), alice.Epoch())

	up, err := alice.Upload(ctx, []string{"gold"}, []byte("second"))
	require.NoError(t, err)
	require.Equal(t, api.StatusOK, up.Status)
	res, err := alice.Search(ctx, []string{"gold"}, "alice")
	require.NoError(t, err)
	require.Equal(t, api.StatusOK, res.Status)
	require.Len(t, res.Documents, 2)

	// detached members resync instead of joining again
	f.gm.endpoint("bob").setOffline(true)
	f.join(t, "carol")
	require.Equal(t, gsig.Detached, f.gm.Status("bob"))
	f.gm.endpoint("bob").setOffline(false)
	again := member.New("bob", f.gm, f.server, time.Second)
	require.True(t, xerrors.Is(again.Join(ctx), group.ErrProtocolViolation))
	st, err := bob.Resync(ctx)
	require.NoError(t, err)
	require.Equal(t, api.StatusOK, st)
}

func TestServerMissingAnUpdateIsCaughtUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gsig.Unbounded)
	alice := f.join(t, "alice")
	_, err := alice.Upload(ctx, []string{"gold"}, []byte("report"))
	require.NoError(t, err)

	// the push for bob's join is lost and the server's X falls behind
	f.server.dropNext(1)
	bob := f.join(t, "bob")
	require.Equal(t, uint64(2), bob.Epoch())
	require.Equal(t, uint64(2), f.server.epoch(t))

	// every lost push is made good within the same fan-out
	f.server.dropNext(2)
	f.join(t, "carol")
	require.Equal(t, uint64(3), f.server.epoch(t))
	dave := f.join(t, "dave")
	require.Equal(t, uint64(4), f.server.epoch(t))

	res, err := dave.Search(ctx, []string{"gold"}, "")
	require.NoError(t, err)
	require.Equal(t, api.StatusOK, res.Status)
	require.Len(t, res.Documents, 1)
	require.Equal(t, []byte("report"), res.Documents[0].Plaintext)
}

func TestIssueKeyHonoursContext(t *testing.T) {
	f := newFixture(t, gsig.Unbounded)
	ek, err := kem.Wrap(f.gs, []byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	aux, _, err := kem.RequestAux(ek)
	require.NoError(t, err)
	ct, _, _ := f.gm.self.Snapshot()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reply, err := f.gm.IssueKey(ctx, &api.KeyRequest{Certificate: ct, Aux: aux})
	require.True(t, xerrors.Is(err, api.ErrUnreachable))
	require.Nil(t, reply)

	reply, err = f.gm.IssueKey(context.Background(), &api.KeyRequest{Certificate: ct, Aux: aux})
	require.NoError(t, err)
	require.Equal(t, api.StatusOK, reply.Status)
}
