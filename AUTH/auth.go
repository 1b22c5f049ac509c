package auth

import (
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/group/edwards25519"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/util/key"
	"golang.org/x/xerrors"
)

// Suite signs uploads and search requests.
var Suite = edwards25519.NewBlakeSHA256Ed25519()

// ErrBadSignature is returned when a signature does not verify.
var ErrBadSignature = xerrors.New("bad signature")

// KeyPair is a member's (or the GM's) signing key.
type KeyPair struct {
	*key.Pair
}

func NewKeyPair() *KeyPair {
	return &KeyPair{Pair: key.NewKeyPair(Suite)}
}

// Sign the digest with the private key.
func (kp *KeyPair) Sign(digest []byte) ([]byte, error) {
	sig, err := schnorr.Sign(Suite, kp.Private, digest)
	if err != nil {
		return nil, xerrors.Errorf("couldn't sign: %v", err)
	}
	return sig, nil
}

// PublicBytes returns the marshalled public key.
func (kp *KeyPair) PublicBytes() []byte {
	buf, err := kp.Public.MarshalBinary()
	if err != nil {
		// ed25519 points always marshal
		panic(err)
	}
	return buf
}

// Verify the signature over digest with the given public key.
func Verify(pub kyber.Point, digest, sig []byte) error {
	if pub == nil {
		return xerrors.Errorf("no public key: %w", ErrBadSignature)
	}
	if err := schnorr.Verify(Suite, pub, digest, sig); err != nil {
		return xerrors.Errorf("%v: %w", err, ErrBadSignature)
	}
	return nil
}

// UnmarshalPublic parses a public key produced by PublicBytes.
func UnmarshalPublic(buf []byte) (kyber.Point, error) {
	p := Suite.Point()
	if err := p.UnmarshalBinary(buf); err != nil {
		return nil, xerrors.Errorf("parsing public key: %v", err)
	}
	return p, nil
}
