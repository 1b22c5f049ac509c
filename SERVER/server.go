package server

import (
	"context"
	"sync"

	"github.com/AUKUS561/GOSE/API"
	"github.com/AUKUS561/GOSE/AUTH"
	"github.com/AUKUS561/GOSE/GROUP"
	"github.com/AUKUS561/GOSE/GSIG"
	"github.com/AUKUS561/GOSE/KEM"
	"github.com/AUKUS561/GOSE/SSE"
	"github.com/AUKUS561/GOSE/STORE"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// DefaultCacheSize is the number of decoded indices kept in memory.
const DefaultCacheSize = 4096

// Server stores encrypted documents and answers trapdoor searches. It sees
// neither keywords nor plaintexts; it tracks X so it can check
// certificates before scanning.
type Server struct {
	params *gsig.ParameterTracker
	store  store.Store
	cache  *lru.Cache[uint64, sse.SecureIndex]

	mu    sync.RWMutex
	keys  map[string]kyber.Point
	gmKey kyber.Point
}

var _ api.ServerAPI = (*Server)(nil)

// New returns a server starting from the given parameters and epoch. gmKey
// is the GM's signing key, which may upload and search on anyone's behalf.
func New(pp *group.PublicParameters, epoch uint64, gmKey kyber.Point, st store.Store, cacheSize int) (*Server, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[uint64, sse.SecureIndex](cacheSize)
	if err != nil {
		return nil, xerrors.Errorf("index cache: %v", err)
	}
	return &Server{
		params: gsig.NewParameterTracker(pp, epoch),
		store:  st,
		cache:  cache,
		keys:   make(map[string]kyber.Point),
		gmKey:  gmKey,
	}, nil
}

// RegisterMember records the signing key of a member admitted by the GM.
func (s *Server) RegisterMember(ctx context.Context, id string, pub kyber.Point) error {
	if id == "" || pub == nil {
		return group.Violation("registration without id or key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[id] = pub
	log.Lvlf3("server: registered key for %s", id)
	return nil
}

// AdvanceX applies a pushed update to the server's copy of X.
func (s *Server) AdvanceX(ctx context.Context, u gsig.Update) error {
	if err := s.params.Apply(u); err != nil {
		return xerrors.Errorf("server at epoch update %d: %w", u.Epoch, err)
	}
	return nil
}

// CatchUpX applies an aggregate factor from the GM after the server missed
// one or more pushes.
func (s *Server) CatchUpX(ctx context.Context, r *gsig.CatchUpReply) error {
	if err := s.params.ApplyCatchUp(r); err != nil {
		return xerrors.Errorf("server catching up: %w", err)
	}
	log.Lvlf2("server: caught up from epoch %d to %d", r.Since, r.Epoch)
	return nil
}

// Epoch is the epoch of the server's X.
func (s *Server) Epoch(ctx context.Context) (uint64, error) {
	_, e := s.params.Snapshot()
	return e, nil
}

// authorised checks sig over digest against the member's key, then the GM's.
func (s *Server) authorised(id string, digest, sig []byte) bool {
	s.mu.RLock()
	member, gm := s.keys[id], s.gmKey
	s.mu.RUnlock()
	if member != nil && auth.Verify(member, digest, sig) == nil {
		return true
	}
	return gm != nil && auth.Verify(gm, digest, sig) == nil
}

// Upload stores a signed document.
func (s *Server) Upload(ctx context.Context, req *api.UploadRequest) (*api.UploadReply, error) {
	if req == nil || req.Owner == "" {
		return nil, group.Violation("incomplete upload")
	}
	if err := req.Key.Check(); err != nil {
		return nil, err
	}
	pp, _ := s.params.Snapshot()
	if err := req.Index.Check(pp); err != nil {
		return nil, err
	}
	if !s.authorised(req.Owner, req.Digest(), req.Signature) {
		accessDeniedTotal.Inc()
		log.Lvlf2("server: upload by %s refused, bad signature", req.Owner)
		return &api.UploadReply{Status: api.StatusAccessDenied}, nil
	}

	id, err := s.store.Append(&store.Record{
		Owner:     req.Owner,
		Index:     req.Index.Encode(),
		U:         req.Key.U.Marshal(),
		V:         req.Key.V,
		Payload:   req.Payload,
		Signature: req.Signature,
	})
	if err != nil {
		return nil, xerrors.Errorf("storing upload: %w", err)
	}
	s.cache.Add(id, req.Index)
	uploadsTotal.Inc()
	log.Lvlf2("server: stored record %d for %s", id, req.Owner)
	return &api.UploadReply{Status: api.StatusOK, ID: id}, nil
}

// Search authenticates the request, verifies the certificate against the
// current X and returns every record whose index passes Test.
func (s *Server) Search(ctx context.Context, req *api.SearchRequest) (*api.SearchReply, error) {
	if req == nil || req.Searcher == "" {
		return nil, group.Violation("incomplete search request")
	}
	if err := req.Certificate.Check(); err != nil {
		return nil, err
	}
	pp, _ := s.params.Snapshot()
	if err := req.Trapdoor.Check(pp); err != nil {
		return nil, err
	}
	denied := &api.SearchReply{Status: api.StatusAccessDenied}
	if req.Certificate.ID != req.Searcher || !s.authorised(req.Searcher, req.Digest(), req.Signature) {
		accessDeniedTotal.Inc()
		log.Lvlf2("server: search by %s refused, bad signature", req.Searcher)
		return denied, nil
	}
	if !gsig.Verify(pp, req.Certificate) {
		accessDeniedTotal.Inc()
		log.Lvlf2("server: search by %s refused, certificate does not verify", req.Searcher)
		return denied, nil
	}
	searchesTotal.Inc()

	reply := &api.SearchReply{Status: api.StatusOK}
	err := s.store.ForEach(func(r *store.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		idx, err := s.index(pp, r)
		if err != nil {
			// a record the server accepted can only be broken by storage
			log.Error("skipping record", r.ID, ":", err)
			return nil
		}
		ok, err := sse.Test(pp, req.Trapdoor, idx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		m, err := toMatch(r)
		if err != nil {
			log.Error("skipping record", r.ID, ":", err)
			return nil
		}
		reply.Matches = append(reply.Matches, m)
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("scanning records: %w", err)
	}
	matchesTotal.Add(float64(len(reply.Matches)))
	log.Lvlf2("server: search by %s matched %d records", req.Searcher, len(reply.Matches))
	return reply, nil
}

func (s *Server) index(pp *group.PublicParameters, r *store.Record) (sse.SecureIndex, error) {
	if idx, ok := s.cache.Get(r.ID); ok {
		return idx, nil
	}
	idx, err := sse.DecodeIndex(pp, r.Index)
	if err != nil {
		return nil, err
	}
	s.cache.Add(r.ID, idx)
	return idx, nil
}

func toMatch(r *store.Record) (api.Match, error) {
	u, err := group.DecodeG1(r.U)
	if err != nil {
		return api.Match{}, err
	}
	return api.Match{
		ID:      r.ID,
		Owner:   r.Owner,
		Key:     &kem.EncryptedKey{U: u, V: r.V},
		Payload: r.Payload,
	}, nil
}
