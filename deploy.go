package main

import (
	"context"
	"sync"

	"github.com/AUKUS561/GOSE/API"
	"github.com/AUKUS561/GOSE/AUTH"
	"github.com/AUKUS561/GOSE/CONFIG"
	"github.com/AUKUS561/GOSE/GM"
	"github.com/AUKUS561/GOSE/GROUP"
	"github.com/AUKUS561/GOSE/MEMBER"
	"github.com/AUKUS561/GOSE/SERVER"
	"github.com/AUKUS561/GOSE/STORE"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// gmID is the GM's own member id.
const gmID = "gm"

// deployment wires a GM, a server and members together in one process.
type deployment struct {
	cfg    *config.Config
	gm     *gm.Manager
	server *server.Server
	store  store.Store

	mu      sync.Mutex
	members map[string]*member.Member
}

func deploy(cfg *config.Config, st store.Store) (*deployment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pp, gs, mk, err := group.Setup(cfg.Curve, cfg.IndexLength)
	if err != nil {
		return nil, err
	}
	signer := auth.NewKeyPair()
	srv, err := server.New(pp, 0, signer.Public, st, server.DefaultCacheSize)
	if err != nil {
		return nil, err
	}
	m, err := gm.New(gm.Config{
		ID:           gmID,
		PP:           pp,
		GS:           gs,
		MK:           mk,
		Signer:       signer,
		Server:       srv,
		HistoryLimit: cfg.HistoryLimit,
		PushTimeout:  cfg.PushTimeout.Duration,
		KeyTimeout:   cfg.KeyTimeout.Duration,
	})
	if err != nil {
		return nil, err
	}
	return &deployment{
		cfg:     cfg,
		gm:      m,
		server:  srv,
		store:   st,
		members: make(map[string]*member.Member),
	}, nil
}

// AddMember creates a member and has it join the group.
func (d *deployment) AddMember(ctx context.Context, id string) (*member.Member, error) {
	m := member.New(id, d.gm, d.server, d.cfg.KeyTimeout.Duration)
	if err := m.Join(ctx); err != nil {
		return nil, xerrors.Errorf("%s: %w", id, err)
	}
	d.mu.Lock()
	d.members[id] = m
	d.mu.Unlock()
	return m, nil
}

func (d *deployment) Member(id string) *member.Member {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.members[id]
}

func (d *deployment) Close() error {
	return d.store.Close()
}

// scenarioIndexLength is the l the scenario always runs with: the owner id
// plus its four keywords.
const scenarioIndexLength = 5

// scenarioOutcome records what the members observed.
type scenarioOutcome struct {
	IndexLength int
	FullMatches int
	MissMatches int
	Decrypted   bool
	AfterLeave  api.Status
}

// OK reports whether the outcome is the expected one: one match and a
// readable document for the full query, none for the query with a
// missing keyword and a denial after the searcher left.
func (o *scenarioOutcome) OK() bool {
	return o.FullMatches == 1 && o.MissMatches == 0 && o.Decrypted && o.AfterLeave == api.StatusAccessDenied
}

// runScenario: A, B and C join; A uploads a document with four keywords;
// C searches for all four, then for three and an absent one; C leaves and
// searches again. The configured index_length is overridden with
// scenarioIndexLength; every other setting is kept.
func runScenario(ctx context.Context, cfg *config.Config) (*scenarioOutcome, error) {
	c := *cfg
	c.IndexLength = scenarioIndexLength
	d, err := deploy(&c, store.NewMemStore())
	if err != nil {
		return nil, err
	}
	defer d.Close()

	var ms []*member.Member
	for _, id := range []string{"A", "B", "C"} {
		m, err := d.AddMember(ctx, id)
		if err != nil {
			return nil, err
		}
		ms = append(ms, m)
	}
	a, cm := ms[0], ms[2]

	doc := []byte("gold dry stead heat")
	if _, err := a.Upload(ctx, []string{"gold", "dry", "stead", "heat"}, doc); err != nil {
		return nil, err
	}

	out := &scenarioOutcome{IndexLength: c.IndexLength}
	res, err := cm.Search(ctx, []string{"gold", "dry", "stead", "heat"}, "")
	if err != nil {
		return nil, err
	}
	out.FullMatches = len(res.Documents)
	for _, got := range res.Documents {
		if got.Err == nil && string(got.Plaintext) == string(doc) {
			out.Decrypted = true
		}
	}

	res, err = cm.Search(ctx, []string{"gold", "dry", "stead", "nope"}, "")
	if err != nil {
		return nil, err
	}
	out.MissMatches = len(res.Documents)

	if err := cm.Leave(ctx); err != nil {
		return nil, err
	}
	res, err = cm.Search(ctx, []string{"gold", "dry", "stead", "heat"}, "")
	if err != nil {
		return nil, err
	}
	out.AfterLeave = res.Status
	log.Lvlf1("scenario: %+v", out)
	return out, nil
}
