// Package storage is the node-side persistence engine: content-keyed
// chunks, first-write-wins spend certificates with conflict
// quarantine, and append-only register logs, all in one leveldb
// database.
package storage

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"xornet/internal/protocol"
	"xornet/internal/transfers"
	"xornet/internal/xorname"
)

// Sentinel conditions the request runner maps onto wire rejections.
var (
	ErrNotFound    = errors.New("storage: not found")
	ErrDoubleSpend = errors.New("storage: conflicting spend certificates")
	ErrFull        = errors.New("storage: chunk capacity reached")
)

// Key prefixes. One byte each; the rest of the key is the raw name.
const (
	prefixChunk    = 'c'
	prefixSpend    = 's'
	prefixEvidence = 'q'
	prefixRegister = 'r'
)

// Store is a node's disk state. Safe for concurrent use; leveldb
// serializes writes internally.
type Store struct {
	db *leveldb.DB
	// maxChunks bounds stored chunk count. Zero means unbounded.
	maxChunks int
}

func Open(dir string, maxChunks int) (*Store, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open storage at %s", dir)
	}
	return &Store{db: db, maxChunks: maxChunks}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func key(prefix byte, name xorname.XorName) []byte {
	k := make([]byte, 1+xorname.Size)
	k[0] = prefix
	copy(k[1:], name[:])
	return k
}

// PutChunk stores a chunk under its content name. Storing the same
// chunk twice is a no-op success: the name proves the content is
// already identical.
func (s *Store) PutChunk(chunk protocol.Chunk) error {
	if err := chunk.Valid(); err != nil {
		return err
	}
	k := key(prefixChunk, chunk.Name())
	if ok, err := s.db.Has(k, nil); err != nil {
		return errors.Wrap(err, "chunk exists check")
	} else if ok {
		return nil
	}
	if s.maxChunks > 0 {
		n, err := s.countPrefix(prefixChunk)
		if err != nil {
			return err
		}
		if n >= s.maxChunks {
			return ErrFull
		}
	}
	return errors.Wrap(s.db.Put(k, chunk.Value, nil), "put chunk")
}

func (s *Store) GetChunk(addr protocol.ChunkAddress) (protocol.Chunk, error) {
	value, err := s.db.Get(key(prefixChunk, addr.Name()), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return protocol.Chunk{}, ErrNotFound
	}
	if err != nil {
		return protocol.Chunk{}, errors.Wrap(err, "get chunk")
	}
	return protocol.NewChunk(value), nil
}

func (s *Store) HasChunk(addr protocol.ChunkAddress) (bool, error) {
	ok, err := s.db.Has(key(prefixChunk, addr.Name()), nil)
	return ok, errors.Wrap(err, "chunk exists check")
}

// PutSpend stores a certificate with first-write-wins semantics. A
// replay of the stored certificate succeeds; a conflicting certificate
// quarantines the pair as double-spend evidence and fails with
// ErrDoubleSpend. A quarantined address never accepts writes again.
func (s *Store) PutSpend(ss *transfers.SignedSpend) error {
	if err := ss.Verify(); err != nil {
		return err
	}
	name := ss.AddressName()
	if quarantined, err := s.db.Has(key(prefixEvidence, name), nil); err != nil {
		return errors.Wrap(err, "quarantine check")
	} else if quarantined {
		return ErrDoubleSpend
	}
	k := key(prefixSpend, name)
	existing, err := s.db.Get(k, nil)
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return errors.Wrap(err, "get spend")
	}
	if err == nil {
		var stored transfers.SignedSpend
		if err := json.Unmarshal(existing, &stored); err != nil {
			return errors.Wrap(err, "decode stored spend")
		}
		if stored.Equal(ss) {
			return nil
		}
		return s.quarantine(name, []transfers.SignedSpend{stored, *ss})
	}
	encoded, err := json.Marshal(ss)
	if err != nil {
		return errors.Wrap(err, "encode spend")
	}
	return errors.Wrap(s.db.Put(k, encoded, nil), "put spend")
}

// quarantine replaces a spend entry with conflict evidence.
func (s *Store) quarantine(name xorname.XorName, spends []transfers.SignedSpend) error {
	evidence := protocol.DoubleSpendEvidence{
		Address: protocol.NameOfSpendID(name),
		Spends:  spends,
	}
	encoded, err := json.Marshal(evidence)
	if err != nil {
		return errors.Wrap(err, "encode evidence")
	}
	batch := new(leveldb.Batch)
	batch.Put(key(prefixEvidence, name), encoded)
	batch.Delete(key(prefixSpend, name))
	if err := s.db.Write(batch, nil); err != nil {
		return errors.Wrap(err, "write quarantine")
	}
	return ErrDoubleSpend
}

// RecordDoubleSpend stores external conflict evidence, merging with
// whatever certificates are already known for the address.
func (s *Store) RecordDoubleSpend(evidence protocol.DoubleSpendEvidence) error {
	if len(evidence.Spends) < 2 {
		return errors.New("storage: evidence needs at least 2 certificates")
	}
	name := evidence.Address.Name()
	for i := range evidence.Spends {
		ss := &evidence.Spends[i]
		if ss.AddressName() != name || ss.Verify() != nil {
			return errors.New("storage: evidence certificate does not belong to address")
		}
	}
	spends := evidence.Spends
	if stored, err := s.GetSpend(protocol.NameOfSpendID(name)); err == nil {
		merged := false
		for i := range spends {
			if spends[i].Equal(stored) {
				merged = true
			}
		}
		if !merged {
			spends = append(spends, *stored)
		}
	}
	err := s.quarantine(name, spends)
	if errors.Is(err, ErrDoubleSpend) {
		return nil
	}
	return err
}

// GetSpend returns the stored certificate. A quarantined address
// yields ErrDoubleSpend, not a certificate: conflicting history is
// never served as truth.
func (s *Store) GetSpend(addr protocol.SpendAddress) (*transfers.SignedSpend, error) {
	name := addr.Name()
	if quarantined, err := s.db.Has(key(prefixEvidence, name), nil); err != nil {
		return nil, errors.Wrap(err, "quarantine check")
	} else if quarantined {
		return nil, ErrDoubleSpend
	}
	encoded, err := s.db.Get(key(prefixSpend, name), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get spend")
	}
	var ss transfers.SignedSpend
	if err := json.Unmarshal(encoded, &ss); err != nil {
		return nil, errors.Wrap(err, "decode spend")
	}
	return &ss, nil
}

// GetDoubleSpendEvidence returns quarantined evidence for an address.
func (s *Store) GetDoubleSpendEvidence(addr protocol.SpendAddress) (*protocol.DoubleSpendEvidence, error) {
	encoded, err := s.db.Get(key(prefixEvidence, addr.Name()), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get evidence")
	}
	var evidence protocol.DoubleSpendEvidence
	if err := json.Unmarshal(encoded, &evidence); err != nil {
		return nil, errors.Wrap(err, "decode evidence")
	}
	return &evidence, nil
}

// AppendRegisterOp appends one operation to a register's log, creating
// the log on first write.
func (s *Store) AppendRegisterOp(cmd protocol.RegisterCmd) error {
	if err := cmd.Valid(); err != nil {
		return err
	}
	addr := cmd.Dst()
	log, err := s.GetRegister(addr)
	if errors.Is(err, ErrNotFound) {
		log = &protocol.ReplicatedRegisterLog{Address: addr}
	} else if err != nil {
		return err
	}
	for _, op := range log.Ops {
		if protocol.Equal(op, cmd) {
			return nil
		}
	}
	log.Ops = append(log.Ops, cmd)
	return s.putRegisterLog(*log)
}

// MergeRegisterLog folds a replicated log into the local one,
// deduplicating ops structurally.
func (s *Store) MergeRegisterLog(incoming protocol.ReplicatedRegisterLog) error {
	for _, op := range incoming.Ops {
		if op.Dst() != incoming.Address {
			return errors.New("storage: register op addressed to a different register")
		}
		if err := s.AppendRegisterOp(op); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) putRegisterLog(log protocol.ReplicatedRegisterLog) error {
	encoded, err := json.Marshal(log)
	if err != nil {
		return errors.Wrap(err, "encode register log")
	}
	return errors.Wrap(s.db.Put(key(prefixRegister, log.Address.Name()), encoded, nil), "put register log")
}

func (s *Store) GetRegister(addr protocol.RegisterAddress) (*protocol.ReplicatedRegisterLog, error) {
	encoded, err := s.db.Get(key(prefixRegister, addr.Name()), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get register log")
	}
	var log protocol.ReplicatedRegisterLog
	if err := json.Unmarshal(encoded, &log); err != nil {
		return nil, errors.Wrap(err, "decode register log")
	}
	return &log, nil
}

func (s *Store) countPrefix(prefix byte) (int, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte{prefix}), nil)
	defer iter.Release()
	n := 0
	for iter.Next() {
		n++
	}
	return n, errors.Wrap(iter.Error(), "count entries")
}

// ChunkCount reports stored chunks, for status output.
func (s *Store) ChunkCount() (int, error) {
	return s.countPrefix(prefixChunk)
}
