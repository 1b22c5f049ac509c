package main

import (
	"context"
	"testing"
	"time"

	"github.com/AUKUS561/GOSE/API"
	"github.com/AUKUS561/GOSE/CONFIG"
	"github.com/AUKUS561/GOSE/GSIG"
	"github.com/AUKUS561/GOSE/MEMBER"
	"github.com/AUKUS561/GOSE/STORE"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestScenario(t *testing.T) {
	cfg := config.Default()
	cfg.IndexLength = 9
	out, err := runScenario(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, scenarioIndexLength, out.IndexLength)
	require.Equal(t, 9, cfg.IndexLength, "the caller's config is left alone")
	require.Equal(t, 1, out.FullMatches)
	require.True(t, out.Decrypted)
	require.Equal(t, 0, out.MissMatches)
	require.Equal(t, api.StatusAccessDenied, out.AfterLeave)
	require.True(t, out.OK())
}

// The GM can search and decrypt every document, including those of
// members who have since left.
func TestEscrowScenario(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.IndexLength = 6
	d, err := deploy(cfg, store.NewMemStore())
	require.NoError(t, err)
	defer d.Close()

	alice, err := d.AddMember(ctx, "alice")
	require.NoError(t, err)
	bob, err := d.AddMember(ctx, "bob")
	require.NoError(t, err)

	_, err = alice.Upload(ctx, []string{"merger", "gold"}, []byte("alice's memo"))
	require.NoError(t, err)
	_, err = bob.Upload(ctx, []string{"gold", "audit"}, []byte("bob's audit"))
	require.NoError(t, err)
	require.NoError(t, alice.Leave(ctx))

	res, err := d.gm.Search(ctx, []string{"gold"}, "")
	require.NoError(t, err)
	require.Equal(t, api.StatusOK, res.Status)
	require.Len(t, res.Documents, 2)
	got := map[string]string{}
	for _, doc := range res.Documents {
		require.NoError(t, doc.Err)
		got[doc.Owner] = string(doc.Plaintext)
	}
	require.Equal(t, map[string]string{"alice": "alice's memo", "bob": "bob's audit"}, got)

	// owner filter
	res, err = bob.Search(ctx, []string{"gold"}, "alice")
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	require.Equal(t, "alice", res.Documents[0].Owner)

	// the GM can also upload
	_, err = d.gm.Upload(ctx, "", []string{"gold"}, []byte("policy"))
	require.NoError(t, err)
	res, err = bob.Search(ctx, []string{"gold"}, gmID)
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	require.Equal(t, []byte("policy"), res.Documents[0].Plaintext)

	// and on a member's behalf, bound to that member as owner
	_, err = d.gm.Upload(ctx, "bob", []string{"escrow"}, []byte("held for bob"))
	require.NoError(t, err)
	res, err = bob.Search(ctx, []string{"escrow"}, "bob")
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	require.Equal(t, "bob", res.Documents[0].Owner)
	require.Equal(t, []byte("held for bob"), res.Documents[0].Plaintext)
	res, err = bob.Search(ctx, []string{"escrow"}, gmID)
	require.NoError(t, err)
	require.Empty(t, res.Documents)

	_, err = d.gm.Upload(ctx, "alice", []string{"escrow"}, nil)
	require.True(t, xerrors.Is(err, gsig.ErrUnknownMember), "alice has left")
	_, err = d.gm.Upload(ctx, "nobody", []string{"escrow"}, nil)
	require.True(t, xerrors.Is(err, gsig.ErrUnknownMember))
}

func TestDeployRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.HistoryLimit = 0
	_, err := deploy(cfg, store.NewMemStore())
	require.Error(t, err)
}

func TestManyMembersConcurrently(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	cfg := config.Default()
	cfg.IndexLength = 4
	d, err := deploy(cfg, store.NewMemStore())
	require.NoError(t, err)
	defer d.Close()

	ids := []string{"m0", "m1", "m2", "m3", "m4", "m5"}
	errs := make(chan error, len(ids))
	for _, id := range ids {
		go func(id string) {
			_, err := d.AddMember(ctx, id)
			errs <- err
		}(id)
	}
	for range ids {
		require.NoError(t, <-errs)
	}

	_, epoch, err := d.gm.PublicParameters(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(len(ids)), epoch)
	se, err := d.server.Epoch(ctx)
	require.NoError(t, err)
	require.Equal(t, epoch, se)

	var last *member.Member
	for _, id := range ids {
		m := d.Member(id)
		// pushes that raced with a join are recovered before use
		_, err := m.Upload(ctx, []string{id}, []byte(id))
		require.NoError(t, err)
		last = m
	}
	res, err := last.Search(ctx, []string{"m0"}, "")
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	require.Equal(t, []byte("m0"), res.Documents[0].Plaintext)
}
