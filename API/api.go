// Package api declares the interfaces each role offers to the others and
// the messages exchanged between them. Every call may block and takes a
// context; transports live behind these interfaces.
package api

import (
	"context"
	"crypto/sha256"

	"github.com/AUKUS561/GOSE/GROUP"
	"github.com/AUKUS561/GOSE/GSIG"
	"github.com/AUKUS561/GOSE/KEM"
	"github.com/AUKUS561/GOSE/SSE"
	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
)

// ErrUnreachable is returned when a peer does not answer in time.
var ErrUnreachable = xerrors.New("peer unreachable")

// Status is the outcome of an authorised operation. Denials are ordinary
// results, not errors.
type Status int

const (
	StatusOK Status = iota
	StatusAccessDenied
)

func (s Status) String() string {
	if s == StatusAccessDenied {
		return "access denied"
	}
	return "ok"
}

// JoinRequest carries the new member's push endpoint and signing key. The
// member id is Member.ID().
type JoinRequest struct {
	Member    MemberAPI
	PublicKey kyber.Point
}

// JoinReply hands the new member everything it needs to operate.
type JoinReply struct {
	PublicParameters *group.PublicParameters
	GroupSecret      *group.GroupSecret
	Certificate      *gsig.Certificate
	Epoch            uint64
}

type CatchUpRequest struct {
	Certificate *gsig.Certificate
	Since       uint64
}

type CatchUpReply struct {
	Status Status
	Reply  *gsig.CatchUpReply
}

// KeyRequest asks the GM for a partial key on a blinded U'.
type KeyRequest struct {
	Certificate *gsig.Certificate
	Aux         *kem.AuxRequest
}

type KeyReply struct {
	Status Status
	Key    *kem.PartialKey
}

// UploadRequest is signed by the owner (or the GM) over Digest.
type UploadRequest struct {
	Owner     string
	Index     sse.SecureIndex
	Key       *kem.EncryptedKey
	Payload   []byte
	Signature []byte
}

// Digest binds owner, index, escrowed key and payload.
func (u *UploadRequest) Digest() []byte {
	h := sha256.New()
	h.Write([]byte("gose/upload/v1"))
	h.Write([]byte(u.Owner))
	h.Write(u.Index.Digest())
	h.Write(u.Key.Digest())
	h.Write(u.Payload)
	return h.Sum(nil)
}

type UploadReply struct {
	Status Status
	ID     uint64
}

// SearchRequest is signed by the searcher (or the GM) over Digest.
type SearchRequest struct {
	Searcher    string
	Certificate *gsig.Certificate
	Trapdoor    sse.Trapdoor
	Signature   []byte
}

func (s *SearchRequest) Digest() []byte {
	h := sha256.New()
	h.Write([]byte("gose/search/v1"))
	h.Write([]byte(s.Searcher))
	h.Write(s.Certificate.Digest())
	h.Write(s.Trapdoor.Digest())
	return h.Sum(nil)
}

// Match is one record whose index satisfied the trapdoor.
type Match struct {
	ID      uint64
	Owner   string
	Key     *kem.EncryptedKey
	Payload []byte
}

type SearchReply struct {
	Status  Status
	Matches []Match
}

// GroupManagerAPI is what members and the CLI call on the GM.
type GroupManagerAPI interface {
	Join(ctx context.Context, req *JoinRequest) (*JoinReply, error)
	Leave(ctx context.Context, id string) error
	CatchUp(ctx context.Context, req *CatchUpRequest) (*CatchUpReply, error)
	IssueKey(ctx context.Context, req *KeyRequest) (*KeyReply, error)
	PublicParameters(ctx context.Context) (*group.PublicParameters, uint64, error)
	PublicKey(ctx context.Context) (kyber.Point, error)
}

// MemberAPI is the push endpoint every member exposes to the GM.
type MemberAPI interface {
	ID() string
	PushUpdate(ctx context.Context, u gsig.Update) error
}

// ServerAPI is the storage server.
type ServerAPI interface {
	RegisterMember(ctx context.Context, id string, pub kyber.Point) error
	AdvanceX(ctx context.Context, u gsig.Update) error
	// CatchUpX and Epoch let the GM resynchronise a server that missed
	// an AdvanceX.
	CatchUpX(ctx context.Context, r *gsig.CatchUpReply) error
	Epoch(ctx context.Context) (uint64, error)
	Upload(ctx context.Context, req *UploadRequest) (*UploadReply, error)
	Search(ctx context.Context, req *SearchRequest) (*SearchReply, error)
}
