package coordinator

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/boltdb/bolt"
)

var bucketNodes = []byte("nodes")
var bucketReplicas = []byte("replicas")

// BoltStore persists the node registry and replica index so a restarted
// coordinator gets its node list and replica locations back without every
// storage node re-registering. File descriptors are not persisted (see
// Restore). It is optional, gated by config.Coordinator.DBPath; grounded on
// QuantaraX's BoltCAS.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if absent) a bolt database at path with
// the two buckets this store needs.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(filepath.Clean(path), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketNodes); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketReplicas)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Close releases the underlying bolt database.
func (b *BoltStore) Close() error { return b.db.Close() }

type persistedNode struct {
	Addr          string `json:"addr"`
	CapacityBytes int64  `json:"capacity_bytes"`
	BandwidthBps  int64  `json:"bandwidth_bps"`
}

type persistedReplicas struct {
	Nodes []string `json:"nodes"`
}

// PersistNode writes one node's registration fields, for the coordinator
// to call from RegisterNode.
func (b *BoltStore) PersistNode(nodeID, addr string, capacityBytes, bandwidthBps int64) error {
	v, err := json.Marshal(persistedNode{Addr: addr, CapacityBytes: capacityBytes, BandwidthBps: bandwidthBps})
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).Put([]byte(nodeID), v)
	})
}

// PersistIndex is a ReplicaIndex.OnChange callback: it writes the current
// replica set for one chunk, or removes the key once the set is empty.
func (b *BoltStore) PersistIndex(fileID string, chunkID int, nodes []string) {
	key := []byte(fmt.Sprintf("%s:%d", fileID, chunkID))
	_ = b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketReplicas)
		if len(nodes) == 0 {
			return bk.Delete(key)
		}
		v, err := json.Marshal(persistedReplicas{Nodes: nodes})
		if err != nil {
			return err
		}
		return bk.Put(key, v)
	})
}

// Restore replays every persisted node and replica entry into c. File
// descriptors are not persisted, so files uploaded before a restart are
// unknown afterwards: DownloadFile and RegisterChunk return ErrFileNotFound
// for them, and the re-replication controller skips their chunks.
func (b *BoltStore) Restore(c *Coordinator) error {
	return b.db.View(func(tx *bolt.Tx) error {
		nodes := tx.Bucket(bucketNodes)
		if nodes != nil {
			if err := nodes.ForEach(func(k, v []byte) error {
				var pn persistedNode
				if err := json.Unmarshal(v, &pn); err != nil {
					return err
				}
				c.RegisterNode(string(k), pn.Addr, pn.CapacityBytes, pn.BandwidthBps)
				return nil
			}); err != nil {
				return err
			}
		}

		replicas := tx.Bucket(bucketReplicas)
		if replicas != nil {
			return replicas.ForEach(func(k, v []byte) error {
				fileID, chunkPart, ok := strings.Cut(string(k), ":")
				if !ok {
					return nil
				}
				chunkID, err := strconv.Atoi(chunkPart)
				if err != nil {
					return nil
				}
				var pr persistedReplicas
				if err := json.Unmarshal(v, &pr); err != nil {
					return err
				}
				for _, nodeID := range pr.Nodes {
					c.Index.Register(fileID, chunkID, nodeID)
				}
				return nil
			})
		}
		return nil
	})
}
