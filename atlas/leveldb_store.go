package atlas

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/stacks-relay/signer-node/common"
)

// Key prefixes partition the single leveldb keyspace into the tables the
// original AtlasDB split across SQL tables.
const (
	prefixInstantiated   = "a:" // content hash -> attachment record (resolved)
	prefixUninstantiated = "u:" // content hash -> attachment record (inboxed, unresolved)
	prefixInstance       = "i:" // content hash|contract|index -> instance record
)

// LevelDBStore is a goleveldb-backed AttachmentStore, the storage layer the
// downloader uses to avoid re-fetching attachments it already has and to
// remember which on-chain instances are still waiting on content.
type LevelDBStore struct {
	db  *leveldb.DB
	ttl time.Duration
}

// OpenLevelDBStore opens (creating if necessary) a LevelDBStore at path.
// ttl governs how long an uninstantiated (content-less) attachment or an
// unresolved instance is kept before eviction.
func OpenLevelDBStore(path string, ttl time.Duration) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("atlas: opening leveldb store: %w", err)
	}
	return &LevelDBStore{db: db, ttl: ttl}, nil
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

type attachmentRecord struct {
	Content   []byte
	StoredAt  int64
}

func (s *LevelDBStore) findAttachment(prefix string, hash common.Hash160) (Attachment, bool, error) {
	raw, err := s.db.Get([]byte(prefix+hash.Hex()), nil)
	if err == leveldb.ErrNotFound {
		return Attachment{}, false, nil
	}
	if err != nil {
		return Attachment{}, false, fmt.Errorf("atlas: reading attachment: %w", err)
	}
	var rec attachmentRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Attachment{}, false, fmt.Errorf("atlas: decoding attachment: %w", err)
	}
	return Attachment{Content: rec.Content}, true, nil
}

func (s *LevelDBStore) FindAttachment(hash common.Hash160) (Attachment, bool, error) {
	return s.findAttachment(prefixInstantiated, hash)
}

func (s *LevelDBStore) FindUninstantiatedAttachment(hash common.Hash160) (Attachment, bool, error) {
	return s.findAttachment(prefixUninstantiated, hash)
}

func (s *LevelDBStore) InsertInstantiatedAttachment(a Attachment) error {
	rec := attachmentRecord{Content: a.Content, StoredAt: time.Now().Unix()}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	hash := a.Hash()
	batch := new(leveldb.Batch)
	batch.Put([]byte(prefixInstantiated+hash.Hex()), raw)
	batch.Delete([]byte(prefixUninstantiated + hash.Hex()))
	return s.db.Write(batch, nil)
}

func instanceKey(hash common.Hash160, contractID string, index uint32) []byte {
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], index)
	return []byte(prefixInstance + hash.Hex() + "|" + contractID + "|" + string(idx[:]))
}

type instanceRecord struct {
	Instance     AttachmentInstance
	Instantiated bool
	StoredAt     int64
}

func (s *LevelDBStore) InsertUninstantiatedAttachmentInstance(inst AttachmentInstance, instantiated bool) error {
	rec := instanceRecord{Instance: inst, Instantiated: instantiated, StoredAt: time.Now().Unix()}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Put(instanceKey(inst.ContentHash, inst.ContractID, inst.AttachmentIndex), raw, nil)
}

func (s *LevelDBStore) FindAllAttachmentInstances(hash common.Hash160) ([]AttachmentInstance, error) {
	prefix := []byte(prefixInstance + hash.Hex())
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var instances []AttachmentInstance
	for iter.Next() {
		var rec instanceRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		instances = append(instances, rec.Instance)
	}
	return instances, iter.Error()
}

func (s *LevelDBStore) evictExpired(prefix string, cutoff int64) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		var storedAt int64
		if prefix == prefixUninstantiated {
			var rec attachmentRecord
			if json.Unmarshal(iter.Value(), &rec) == nil {
				storedAt = rec.StoredAt
			}
		} else {
			var rec instanceRecord
			if json.Unmarshal(iter.Value(), &rec) == nil && !rec.Instantiated {
				storedAt = rec.StoredAt
			}
		}
		if storedAt != 0 && storedAt < cutoff {
			batch.Delete(bytes.Clone(iter.Key()))
		}
	}
	if err := iter.Error(); err != nil {
		return err
	}
	if batch.Len() == 0 {
		return nil
	}
	return s.db.Write(batch, nil)
}

func (s *LevelDBStore) EvictExpiredUninstantiatedAttachments() error {
	return s.evictExpired(prefixUninstantiated, time.Now().Add(-s.ttl).Unix())
}

func (s *LevelDBStore) EvictExpiredUnresolvedAttachmentInstances() error {
	return s.evictExpired(prefixInstance, time.Now().Add(-s.ttl).Unix())
}
