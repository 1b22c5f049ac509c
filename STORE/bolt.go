package store

import (
	"encoding/binary"

	bbolt "go.etcd.io/bbolt"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

var bucketRecords = []byte("gose-records")

// BoltStore persists records in a bbolt file, keyed by an 8-byte
// big-endian sequence number.
type BoltStore struct {
	db     *bbolt.DB
	bucket []byte
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, xerrors.Errorf("opening %s: %v", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	})
	if err != nil {
		db.Close()
		return nil, xerrors.Errorf("creating bucket: %v", err)
	}
	log.Lvlf2("opened record store %s", path)
	return &BoltStore{db: db, bucket: bucketRecords}, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func (s *BoltStore) Append(r *Record) (uint64, error) {
	var id uint64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		c := *r
		c.ID = seq
		buf, err := protobuf.Encode(&c)
		if err != nil {
			return err
		}
		id = seq
		return b.Put(itob(seq), buf)
	})
	if err != nil {
		log.Error("couldn't append record:", err)
		return 0, xerrors.Errorf("appending record: %v", err)
	}
	return id, nil
}

func (s *BoltStore) Get(id uint64) (*Record, error) {
	var r *Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		buf := tx.Bucket(s.bucket).Get(itob(id))
		if buf == nil {
			return xerrors.Errorf("record %d: %w", id, ErrNotFound)
		}
		var err error
		r, err = decodeRecord(buf)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ForEach decodes records inside a read transaction; f must not write to
// the store.
func (s *BoltStore) ForEach(f func(*Record) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, v []byte) error {
			r, err := decodeRecord(v)
			if err != nil {
				return xerrors.Errorf("record %x: %w", k, err)
			}
			return f(r)
		})
	})
}

func (s *BoltStore) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(s.bucket).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func decodeRecord(buf []byte) (*Record, error) {
	r := &Record{}
	if err := protobuf.Decode(buf, r); err != nil {
		return nil, xerrors.Errorf("decoding record: %v", err)
	}
	return r, nil
}
