package sse

import (
	"crypto/sha256"

	"github.com/AUKUS561/GOSE/GROUP"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

type elementsWire struct {
	Elems [][]byte
}

// Encode serialises the index as a fixed-length sequence of G1 elements.
func (idx SecureIndex) Encode() [][]byte {
	out := make([][]byte, len(idx))
	for i, p := range idx {
		out[i] = p.Marshal()
	}
	return out
}

// DecodeIndex parses an index and checks it has l+1 elements.
func DecodeIndex(pp *group.PublicParameters, elems [][]byte) (SecureIndex, error) {
	if len(elems) != pp.IndexSize() {
		return nil, group.Violation("index of %d elements, want %d", len(elems), pp.IndexSize())
	}
	idx := make(SecureIndex, len(elems))
	for i, b := range elems {
		p, err := group.DecodeG1(b)
		if err != nil {
			return nil, xerrors.Errorf("index element %d: %w", i, err)
		}
		idx[i] = p
	}
	return idx, nil
}

func (idx SecureIndex) MarshalBinary() ([]byte, error) {
	return protobuf.Encode(&elementsWire{Elems: idx.Encode()})
}

// Digest hashes the canonical encoding; it is part of signed uploads.
func (idx SecureIndex) Digest() []byte {
	h := sha256.New()
	for _, p := range idx {
		h.Write(p.Marshal())
	}
	return h.Sum(nil)
}

func (td Trapdoor) Encode() [][]byte {
	out := make([][]byte, len(td))
	for i, p := range td {
		out[i] = p.Marshal()
	}
	return out
}

// DecodeTrapdoor parses a trapdoor and checks it has l+1 elements.
func DecodeTrapdoor(pp *group.PublicParameters, elems [][]byte) (Trapdoor, error) {
	if len(elems) != pp.IndexSize() {
		return nil, group.Violation("trapdoor of %d elements, want %d", len(elems), pp.IndexSize())
	}
	td := make(Trapdoor, len(elems))
	for i, b := range elems {
		p, err := group.DecodeG2(b)
		if err != nil {
			return nil, xerrors.Errorf("trapdoor element %d: %w", i, err)
		}
		td[i] = p
	}
	return td, nil
}

func (td Trapdoor) MarshalBinary() ([]byte, error) {
	return protobuf.Encode(&elementsWire{Elems: td.Encode()})
}

// UnmarshalTrapdoor is the inverse of Trapdoor.MarshalBinary.
func UnmarshalTrapdoor(pp *group.PublicParameters, buf []byte) (Trapdoor, error) {
	var w elementsWire
	if err := protobuf.Decode(buf, &w); err != nil {
		return nil, group.Violation("decoding trapdoor: %v", err)
	}
	return DecodeTrapdoor(pp, w.Elems)
}

// UnmarshalIndex is the inverse of SecureIndex.MarshalBinary.
func UnmarshalIndex(pp *group.PublicParameters, buf []byte) (SecureIndex, error) {
	var w elementsWire
	if err := protobuf.Decode(buf, &w); err != nil {
		return nil, group.Violation("decoding index: %v", err)
	}
	return DecodeIndex(pp, w.Elems)
}

// Digest hashes the canonical encoding; it is what members sign.
func (td Trapdoor) Digest() []byte {
	h := sha256.New()
	for _, p := range td {
		h.Write(p.Marshal())
	}
	return h.Sum(nil)
}
