package server

import (
	"context"
	"testing"

	"github.com/AUKUS561/GOSE/API"
	"github.com/AUKUS561/GOSE/AUTH"
	"github.com/AUKUS561/GOSE/GROUP"
	"github.com/AUKUS561/GOSE/GSIG"
	"github.com/AUKUS561/GOSE/KEM"
	"github.com/AUKUS561/GOSE/SSE"
	"github.com/AUKUS561/GOSE/STORE"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

type fixture struct {
	srv   *Server
	state *gsig.GroupMembershipState
	sse   *sse.SSE
	gs    *group.GroupSecret
	gmKey *auth.KeyPair
	keys  map[string]*auth.KeyPair
	certs map[string]*gsig.Certificate
}

func newFixture(t *testing.T, st store.Store) *fixture {
	pp, gs, mk, err := group.Setup(group.CurveBN256, 4)
	require.NoError(t, err)
	state, err := gsig.NewGroupMembershipState(pp, mk, gsig.Unbounded)
	require.NoError(t, err)
	gmKey := auth.NewKeyPair()
	srv, err := New(pp, 0, gmKey.Public, st, 2)
	require.NoError(t, err)

	f := &fixture{srv: srv, state: state, sse: sse.NewSSE(pp, gs), gs: gs, gmKey: gmKey,
		keys: map[string]*auth.KeyPair{}, certs: map[string]*gsig.Certificate{}}
	certs, err := state.Issue("alice", "bob", "gm")
	require.NoError(t, err)
	for _, ct := range certs {
		f.certs[ct.ID] = ct
		kp := gmKey
		if ct.ID != "gm" {
			kp = auth.NewKeyPair()
			require.NoError(t, srv.RegisterMember(context.Background(), ct.ID, kp.Public))
		}
		f.keys[ct.ID] = kp
	}
	return f
}

func (f *fixture) upload(t *testing.T, owner string, signer *auth.KeyPair, keywords ...string) *api.UploadReply {
	idx, err := f.sse.BuildIndex(owner, keywords)
	require.NoError(t, err)
	ek, err := kem.Wrap(f.gs, []byte("key"))
	require.NoError(t, err)
	req := &api.UploadRequest{Owner: owner, Index: idx, Key: ek, Payload: []byte("payload of " + owner)}
	req.Signature, err = signer.Sign(req.Digest())
	require.NoError(t, err)
	reply, err := f.srv.Upload(context.Background(), req)
	require.NoError(t, err)
	return reply
}

func (f *fixture) search(t *testing.T, who string, signer *auth.KeyPair, terms ...string) *api.SearchReply {
	td, err := f.sse.BuildTrapdoor(terms)
	require.NoError(t, err)
	req := &api.SearchRequest{Searcher: who, Certificate: f.certs[who], Trapdoor: td}
	req.Signature, err = signer.Sign(req.Digest())
	require.NoError(t, err)
	reply, err := f.srv.Search(context.Background(), req)
	require.NoError(t, err)
	return reply
}

func TestUploadSearch(t *testing.T) {
	f := newFixture(t, store.NewMemStore())
	require.Equal(t, api.StatusOK, f.upload(t, "alice", f.keys["alice"], "gold", "dry").Status)
	require.Equal(t, api.StatusOK, f.upload(t, "bob", f.keys["bob"], "gold").Status)
	require.Equal(t, api.StatusOK, f.upload(t, "bob", f.keys["bob"], "heat").Status)

	reply := f.search(t, "bob", f.keys["bob"], "gold")
	require.Equal(t, api.StatusOK, reply.Status)
	require.Len(t, reply.Matches, 2)

	reply = f.search(t, "bob", f.keys["bob"], "gold", "alice")
	require.Len(t, reply.Matches, 1)
	require.Equal(t, "alice", reply.Matches[0].Owner)
	require.Equal(t, []byte("payload of alice"), reply.Matches[0].Payload)
	require.NotNil(t, reply.Matches[0].Key.U)

	// more records than the cache holds
	reply = f.search(t, "alice", f.keys["alice"], "heat")
	require.Len(t, reply.Matches, 1)
	require.Equal(t, uint64(3), reply.Matches[0].ID)
}

func TestSignatureGating(t *testing.T) {
	f := newFixture(t, store.NewMemStore())

	// bob cannot upload in alice's name, the GM can
	require.Equal(t, api.StatusAccessDenied, f.upload(t, "alice", f.keys["bob"], "gold").Status)
	require.Equal(t, api.StatusOK, f.upload(t, "alice", f.gmKey, "gold").Status)
	// unregistered uploader
	require.Equal(t, api.StatusAccessDenied, f.upload(t, "mallory", auth.NewKeyPair(), "gold").Status)

	require.Equal(t, api.StatusAccessDenied, f.search(t, "alice", f.keys["bob"], "gold").Status)
	require.Equal(t, api.StatusOK, f.search(t, "alice", f.gmKey, "gold").Status)
	reply := f.search(t, "gm", f.gmKey, "gold")
	require.Equal(t, api.StatusOK, reply.Status)
	require.Len(t, reply.Matches, 1)

	// certificate of another member
	td, err := f.sse.BuildTrapdoor([]string{"gold"})
	require.NoError(t, err)
	req := &api.SearchRequest{Searcher: "bob", Certificate: f.certs["alice"], Trapdoor: td}
	req.Signature, err = f.keys["bob"].Sign(req.Digest())
	require.NoError(t, err)
	r, err := f.srv.Search(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, api.StatusAccessDenied, r.Status)
}

func TestSearchAfterAdvance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemStore())
	f.upload(t, "alice", f.keys["alice"], "gold")

	ch, err := f.state.Leave("bob")
	require.NoError(t, err)
	require.NoError(t, f.srv.AdvanceX(ctx, ch.Update))
	require.Equal(t, uint64(1), mustEpoch(t, f.srv))

	// bob's certificate is stale, alice's is brought forward
	require.Equal(t, api.StatusAccessDenied, f.search(t, "bob", f.keys["bob"], "gold").Status)
	f.certs["alice"].Advance(ch.Update.T)
	require.Equal(t, api.StatusOK, f.search(t, "alice", f.keys["alice"], "gold").Status)

	// a skipped epoch is reported
	err = f.srv.AdvanceX(ctx, gsig.Update{Epoch: 5, T: ch.Update.T})
	require.True(t, xerrors.Is(err, gsig.ErrEpochGap))
}

func TestCatchUpX(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemStore())
	f.upload(t, "alice", f.keys["alice"], "gold")

	// the server misses both pushes
	var missed []*gsig.Update
	for _, id := range []string{"bob", "gm"} {
		ch, err := f.state.Leave(id)
		require.NoError(t, err)
		missed = append(missed, &ch.Update)
	}
	err := f.srv.AdvanceX(ctx, *missed[1])
	require.True(t, xerrors.Is(err, gsig.ErrEpochGap))

	r, err := f.state.Aggregate(0)
	require.NoError(t, err)
	require.NoError(t, f.srv.CatchUpX(ctx, r))
	require.Equal(t, uint64(2), mustEpoch(t, f.srv))

	// a repeated catch-up starts from the wrong epoch
	err = f.srv.CatchUpX(ctx, r)
	require.True(t, xerrors.Is(err, gsig.ErrStaleCatchUp))
	err = f.srv.CatchUpX(ctx, nil)
	require.True(t, xerrors.Is(err, group.ErrProtocolViolation))

	for _, u := range missed {
		f.certs["alice"].Advance(u.T)
	}
	reply := f.search(t, "alice", f.keys["alice"], "gold")
	require.Equal(t, api.StatusOK, reply.Status)
	require.Len(t, reply.Matches, 1)
}

func mustEpoch(t *testing.T, s *Server) uint64 {
	e, err := s.Epoch(context.Background())
	require.NoError(t, err)
	return e
}

func TestMalformedRequests(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemStore())

	_, err := f.srv.Upload(ctx, nil)
	require.True(t, xerrors.Is(err, group.ErrProtocolViolation))

	idx, err := f.sse.BuildIndex("alice", []string{"gold"})
	require.NoError(t, err)
	ek, err := kem.Wrap(f.gs, []byte("key"))
	require.NoError(t, err)
	_, err = f.srv.Upload(ctx, &api.UploadRequest{Owner: "alice", Index: idx[:2], Key: ek})
	require.True(t, xerrors.Is(err, group.ErrProtocolViolation))

	td, err := f.sse.BuildTrapdoor([]string{"gold"})
	require.NoError(t, err)
	_, err = f.srv.Search(ctx, &api.SearchRequest{Searcher: "alice", Certificate: f.certs["alice"], Trapdoor: td[1:]})
	require.True(t, xerrors.Is(err, group.ErrProtocolViolation))

	holed := append(sse.SecureIndex(nil), idx...)
	holed[3] = nil
	_, err = f.srv.Upload(ctx, &api.UploadRequest{Owner: "alice", Index: holed, Key: ek})
	require.True(t, xerrors.Is(err, group.ErrProtocolViolation))
	_, err = f.srv.Upload(ctx, &api.UploadRequest{Owner: "alice", Index: idx, Key: &kem.EncryptedKey{V: ek.V}})
	require.True(t, xerrors.Is(err, group.ErrProtocolViolation))
	_, err = f.srv.Upload(ctx, &api.UploadRequest{Owner: "alice", Index: idx})
	require.True(t, xerrors.Is(err, group.ErrProtocolViolation))

	cert := f.certs["alice"]
	for _, partial := range []*gsig.Certificate{
		{ID: "alice"},
		{ID: "alice", A: cert.A, B: cert.B},
		{ID: "alice", B: cert.B, C: cert.C},
		{A: cert.A, B: cert.B, C: cert.C},
	} {
		_, err = f.srv.Search(ctx, &api.SearchRequest{Searcher: "alice", Certificate: partial, Trapdoor: td})
		require.True(t, xerrors.Is(err, group.ErrProtocolViolation))
	}
	holedTd := append(sse.Trapdoor(nil), td...)
	holedTd[0] = nil
	_, err = f.srv.Search(ctx, &api.SearchRequest{Searcher: "alice", Certificate: cert, Trapdoor: holedTd})
	require.True(t, xerrors.Is(err, group.ErrProtocolViolation))

	require.Error(t, f.srv.RegisterMember(ctx, "", nil))
}

func TestBoltBackedServer(t *testing.T) {
	st, err := store.OpenBolt(t.TempDir() + "/server.db")
	require.NoError(t, err)
	defer st.Close()
	f := newFixture(t, st)
	f.upload(t, "alice", f.keys["alice"], "gold", "dry")
	f.upload(t, "bob", f.keys["bob"], "dry")

	reply := f.search(t, "alice", f.keys["alice"], "dry")
	require.Len(t, reply.Matches, 2)
	reply = f.search(t, "alice", f.keys["alice"], "dry", "gold")
	require.Len(t, reply.Matches, 1)
	require.Equal(t, uint64(1), reply.Matches[0].ID)
}
