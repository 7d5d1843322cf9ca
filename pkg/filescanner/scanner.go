package filescanner

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/knbase/pkg/types"
)

var bucketMeta = []byte("meta")

var keyNextEventID = []byte("next_event_id")

// fileState is the durable per-file checkpoint record
type fileState struct {
	Size  int64  `json:"size"`
	MTime int64  `json:"mtime"`
	Hash  []byte `json:"hash"`
}

// stagedEvent is a checkpoint mutation held in memory until the engine
// confirms the event.
type stagedEvent struct {
	updating types.Updating
	relPath  string
	state    *fileState // nil for deletes
}

// pendingEvent is one candidate delta found by a diff pass. Hashes for
// added and changed files are computed lazily when the cursor reaches the
// event.
type pendingEvent struct {
	updating types.Updating
	relPath  string
	size     int64
	mtime    int64
	oldState *fileState // recorded checkpoint, nil for adds
}

func baseBucket(baseID int64) []byte {
	return []byte("base:" + strconv.FormatInt(baseID, 10))
}

// diff walks the directory tree and compares it against the base's
// checkpoint, producing pending events in walk order with deletes last.
func (m *Module) diff(baseID int64, rootPath string) ([]*pendingEvent, error) {
	current := make(map[string]*pendingEvent)
	var order []string

	err := filepath.WalkDir(rootPath, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(rootPath, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		current[rel] = &pendingEvent{
			relPath: rel,
			size:    info.Size(),
			mtime:   info.ModTime().UnixMilli(),
		}
		order = append(order, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", rootPath, err)
	}

	recorded := make(map[string]*fileState)
	err = m.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(baseBucket(baseID))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var state fileState
			if err := json.Unmarshal(v, &state); err != nil {
				return err
			}
			recorded[string(k)] = &state
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	var pending []*pendingEvent
	for _, rel := range order {
		event := current[rel]
		old, seen := recorded[rel]
		switch {
		case !seen:
			event.updating = types.UpdatingCreate
		case old.Size != event.size || old.MTime != event.mtime:
			event.updating = types.UpdatingUpdate
			event.oldState = old
		default:
			continue
		}
		pending = append(pending, event)
	}
	for rel, old := range recorded {
		if _, alive := current[rel]; !alive {
			pending = append(pending, &pendingEvent{
				updating: types.UpdatingDelete,
				relPath:  rel,
				oldState: old,
			})
		}
	}
	return pending, nil
}

// commitStaged applies one confirmed checkpoint mutation
func (m *Module) commitStaged(baseID int64, staged *stagedEvent) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(baseBucket(baseID))
		if err != nil {
			return err
		}
		if staged.updating == types.UpdatingDelete {
			return bucket.Delete([]byte(staged.relPath))
		}
		data, err := json.Marshal(staged.state)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(staged.relPath), data)
	})
}

// nextEventID allocates a durable monotonically increasing event id
func (m *Module) nextEventID() (int64, error) {
	var id int64
	err := m.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)
		raw := bucket.Get(keyNextEventID)
		if raw != nil {
			id = int64(binary.BigEndian.Uint64(raw))
		}
		next := make([]byte, 8)
		binary.BigEndian.PutUint64(next, uint64(id+1))
		return bucket.Put(keyNextEventID, next)
	})
	return id, err
}

// cursor yields a scan's pending events one at a time, hashing file
// contents lazily. Single pass, not restartable.
type cursor struct {
	module   *Module
	base     *types.KnowledgeBase
	rootPath string
	pending  []*pendingEvent
	index    int
	closed   bool
}

func (c *cursor) Next() (*types.ResourceEvent, bool, error) {
	if c.closed || c.index >= len(c.pending) {
		return nil, false, nil
	}
	event := c.pending[c.index]
	c.index++

	absPath := filepath.Join(c.rootPath, filepath.FromSlash(event.relPath))

	var hash []byte
	var state *fileState
	switch event.updating {
	case types.UpdatingDelete:
		hash = event.oldState.Hash
	default:
		fileHash, err := hashFile(absPath)
		if err != nil {
			return nil, false, fmt.Errorf("failed to hash %s: %w", absPath, err)
		}
		hash = fileHash
		state = &fileState{Size: event.size, MTime: event.mtime, Hash: fileHash}
	}

	eventID, err := c.module.nextEventID()
	if err != nil {
		return nil, false, err
	}

	meta, err := json.Marshal(map[string]string{"name": filepath.Base(event.relPath)})
	if err != nil {
		return nil, false, err
	}
	resource := &types.Resource{
		ID:          event.relPath,
		Base:        c.base,
		Hash:        hash,
		ContentType: contentTypeOf(event.relPath),
		Meta:        meta,
		UpdatedAt:   event.mtime,
	}

	c.module.stageEvent(c.base.ID, eventID, &stagedEvent{
		updating: event.updating,
		relPath:  event.relPath,
		state:    state,
	})

	return &types.ResourceEvent{
		ID:       eventID,
		Resource: resource,
		Path:     absPath,
		Updating: event.updating,
	}, true, nil
}

func (c *cursor) Close() error {
	c.closed = true
	return nil
}

func hashFile(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	digest := sha256.New()
	if _, err := io.Copy(digest, file); err != nil {
		return nil, err
	}
	return digest.Sum(nil), nil
}
