package member

import (
	"context"
	"time"

	"github.com/AUKUS561/GOSE/API"
	"github.com/AUKUS561/GOSE/AUTH"
	"github.com/AUKUS561/GOSE/DOCENC"
	"github.com/AUKUS561/GOSE/GROUP"
	"github.com/AUKUS561/GOSE/GSIG"
	"github.com/AUKUS561/GOSE/KEM"
	"github.com/AUKUS561/GOSE/SSE"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// ErrKeyDenied marks a match whose partial key the GM refused.
var ErrKeyDenied = xerrors.New("partial key denied")

// DefaultKeyTimeout bounds one partial-key round trip.
const DefaultKeyTimeout = 5 * time.Second

// Credentials is where the protocol reads the caller's current certificate
// and parameters from; gsig.LocalCertificateState implements it.
type Credentials interface {
	Snapshot() (*gsig.Certificate, *group.PublicParameters, uint64)
}

// KeyIssuer hands out partial keys. Members reach the GM remotely, the GM
// answers its own requests.
type KeyIssuer interface {
	IssueKey(ctx context.Context, req *api.KeyRequest) (*api.KeyReply, error)
}

// Document is one search hit. Err is nil when Plaintext is set; otherwise
// it says why the match could not be decrypted.
type Document struct {
	ID        uint64
	Owner     string
	Plaintext []byte
	Err       error
}

// SearchResult holds the decrypted matches of an authorised search.
type SearchResult struct {
	Status    api.Status
	Documents []Document
}

// Protocol is the upload / search / decrypt logic shared by ordinary
// members and the GM searching on its own account.
type Protocol struct {
	id         string
	creds      Credentials
	gs         *group.GroupSecret
	signer     *auth.KeyPair
	server     api.ServerAPI
	keys       KeyIssuer
	keyTimeout time.Duration
}

func NewProtocol(id string, creds Credentials, gs *group.GroupSecret, signer *auth.KeyPair,
	server api.ServerAPI, keys KeyIssuer, keyTimeout time.Duration) *Protocol {
	if keyTimeout <= 0 {
		keyTimeout = DefaultKeyTimeout
	}
	return &Protocol{
		id:         id,
		creds:      creds,
		gs:         gs,
		signer:     signer,
		server:     server,
		keys:       keys,
		keyTimeout: keyTimeout,
	}
}

// Upload indexes keywords under owner, encrypts the payload under a fresh
// key, escrows that key and stores the lot on the server. An empty owner
// means the caller. The server only accepts a foreign owner from the GM.
func (p *Protocol) Upload(ctx context.Context, owner string, keywords []string, payload []byte) (*api.UploadReply, error) {
	if owner == "" {
		owner = p.id
	}
	_, pp, _ := p.creds.Snapshot()
	idx, err := sse.NewSSE(pp, p.gs).BuildIndex(owner, keywords)
	if err != nil {
		return nil, xerrors.Errorf("while building index: %w", err)
	}
	r, err := docenc.NewKey()
	if err != nil {
		return nil, err
	}
	ct, err := docenc.Seal(r, payload)
	if err != nil {
		return nil, xerrors.Errorf("encrypting document: %v", err)
	}
	ek, err := kem.Wrap(p.gs, r)
	if err != nil {
		return nil, xerrors.Errorf("wrapping document key: %w", err)
	}

	req := &api.UploadRequest{Owner: owner, Index: idx, Key: ek, Payload: ct}
	if req.Signature, err = p.signer.Sign(req.Digest()); err != nil {
		return nil, err
	}
	reply, err := p.server.Upload(ctx, req)
	if err != nil {
		return nil, xerrors.Errorf("uploading: %w", err)
	}
	log.Lvlf2("%s: uploaded %d keywords for %s as record %d (%s)", p.id, len(keywords), owner, reply.ID, reply.Status)
	return reply, nil
}

// Search looks for documents holding all terms. A non-empty owner limits
// the search to that owner's documents. Each match is decrypted through a
// partial-key exchange with the GM; a failed exchange only affects that
// match.
func (p *Protocol) Search(ctx context.Context, terms []string, owner string) (*SearchResult, error) {
	ct, pp, _ := p.creds.Snapshot()
	query := terms
	if owner != "" {
		query = append(append([]string{}, terms...), owner)
	}
	td, err := sse.NewSSE(pp, p.gs).BuildTrapdoor(query)
	if err != nil {
		return nil, xerrors.Errorf("while building trapdoor: %w", err)
	}

	req := &api.SearchRequest{Searcher: p.id, Certificate: ct, Trapdoor: td}
	if req.Signature, err = p.signer.Sign(req.Digest()); err != nil {
		return nil, err
	}
	reply, err := p.server.Search(ctx, req)
	if err != nil {
		return nil, xerrors.Errorf("searching: %w", err)
	}
	if reply.Status != api.StatusOK {
		log.Lvlf2("%s: search denied", p.id)
		return &SearchResult{Status: reply.Status}, nil
	}

	res := &SearchResult{Status: api.StatusOK}
	for _, m := range reply.Matches {
		doc := Document{ID: m.ID, Owner: m.Owner}
		doc.Plaintext, doc.Err = p.decrypt(ctx, pp, ct, m)
		if doc.Err != nil {
			log.Lvlf2("%s: record %d undecryptable: %v", p.id, m.ID, doc.Err)
		}
		res.Documents = append(res.Documents, doc)
	}
	log.Lvlf2("%s: search matched %d records", p.id, len(res.Documents))
	return res, nil
}

// decrypt runs RequestAux -> IssueKey -> Unwrap -> Open for one match.
func (p *Protocol) decrypt(ctx context.Context, pp *group.PublicParameters, ct *gsig.Certificate,
	m api.Match) ([]byte, error) {
	aux, nu, err := kem.RequestAux(m.Key)
	if err != nil {
		return nil, err
	}

	kctx, cancel := context.WithTimeout(ctx, p.keyTimeout)
	defer cancel()
	reply, err := p.keys.IssueKey(kctx, &api.KeyRequest{Certificate: ct, Aux: aux})
	if err != nil {
		if xerrors.Is(err, context.DeadlineExceeded) || kctx.Err() != nil {
			return nil, xerrors.Errorf("partial key for record %d: %w", m.ID, api.ErrUnreachable)
		}
		return nil, err
	}
	if reply.Status != api.StatusOK {
		return nil, ErrKeyDenied
	}
	if err := kem.VerifyPartialKey(pp, p.gs, aux, reply.Key); err != nil {
		return nil, err
	}

	r, err := kem.Unwrap(p.gs, m.Key, reply.Key.D, nu)
	if err != nil {
		return nil, err
	}
	return docenc.Open(r, m.Payload)
}
