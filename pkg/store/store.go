// Package store implements Memory Palace's embedded durable store: a
// single bbolt file holding memories, paths, gists and pending snapshots,
// following the teacher's bucket-per-entity layout (see
// pkg/storage/boltdb.go in the teacher repo this was adapted from). Index
// jobs and cleanup reviews are process-local work orders, not durable
// entities (see pkg/indexworker and pkg/governance package docs), so they
// have no bucket here.
//
// Writes go through bbolt's serialized db.Update transactions; reads use
// db.View, which bbolt backs with MVCC snapshot isolation so readers never
// block writers and vice versa. Full-text and vector side indices are
// derived, in-memory caches rebuilt by the index worker; they are not the
// source of truth and are guarded by their own mutex, separate from bolt's
// transaction semantics.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/memorypalace/core/pkg/errs"
	"github.com/memorypalace/core/pkg/log"
	"github.com/memorypalace/core/pkg/types"
)

var (
	bucketMemories   = []byte("memories")
	bucketPaths      = []byte("paths")
	bucketGists      = []byte("gists")
	bucketSnapshots  = []byte("snapshots")
	bucketMigrations = []byte("schema_migrations")
)

// Store is the embedded key-addressed memory store.
type Store struct {
	db *bolt.DB

	mu       sync.RWMutex // guards the derived side indices below
	fulltext *invertedIndex
	vectors  *vectorIndex
}

// Open creates or opens the bbolt-backed store rooted at dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "memory-palace.db")
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{
			bucketMemories, bucketPaths, bucketGists, bucketSnapshots,
			bucketMigrations,
		} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:       db,
		fulltext: newInvertedIndex(),
		vectors:  newVectorIndex(),
	}

	if err := s.warmSideIndices(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) warmSideIndices() error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMemories)
		return b.ForEach(func(k, v []byte) error {
			var m types.Memory
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if !m.Deprecated {
				s.fulltext.index(m.ID, m.Content)
			}
			return nil
		})
	})
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func putJSON(b *bolt.Bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func getJSON(b *bolt.Bucket, key string, v interface{}) (bool, error) {
	data := b.Get([]byte(key))
	if data == nil {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

// GetMemory returns a memory by id.
func (s *Store) GetMemory(id string) (*types.Memory, error) {
	var m types.Memory
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket(bucketMemories), id, &m)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errs.New(errs.AddressNotFound, "memory not found: "+id)
	}
	return &m, nil
}

// ListAllMemories returns every memory record, including deprecated ones.
func (s *Store) ListAllMemories() ([]types.Memory, error) {
	var out []types.Memory
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMemories).ForEach(func(k, v []byte) error {
			var m types.Memory
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, m)
			return nil
		})
	})
	return out, err
}

// GetByAddress resolves a (domain, path) tuple to its memory, plus the
// breadcrumb of path tokens from the domain root.
func (s *Store) GetByAddress(addr types.Address) (*types.Memory, []string, error) {
	var path types.Path
	var mem types.Memory
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := getJSON(tx.Bucket(bucketPaths), pathKey(addr), &path)
		if err != nil {
			return err
		}
		if !found {
			return errs.New(errs.AddressNotFound, "no such address: "+addr.String())
		}
		found, err = getJSON(tx.Bucket(bucketMemories), path.MemoryID, &mem)
		if err != nil {
			return err
		}
		if !found {
			return errs.New(errs.AddressNotFound, "dangling path: "+addr.String())
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &mem, strings.Split(addr.Path, "/"), nil
}

func pathKey(addr types.Address) string {
	return addr.Domain + "|" + addr.Path
}

// ResolvePath returns the raw Path record for an address, if any.
func (s *Store) ResolvePath(addr types.Address) (*types.Path, error) {
	var p types.Path
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket(bucketPaths), pathKey(addr), &p)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &p, nil
}

// Create creates a new Memory under parentAddr's domain and assigns it a
// title-derived (or generated) path token. It returns the new memory and
// its full address.
func (s *Store) Create(domain, parentPath, content string, priority int, title, disclosure string) (*types.Memory, types.Address, error) {
	if priority < 0 {
		return nil, types.Address{}, errs.New(errs.InvalidPriority, "priority must be >= 0")
	}
	if title != "" && !validTitle(title) {
		return nil, types.Address{}, errs.New(errs.InvalidTitle, "title must match [a-z0-9_-]+")
	}

	now := time.Now()
	mem := types.Memory{
		ID:             uuid.NewString(),
		Content:        content,
		Priority:       priority,
		Disclosure:     disclosure,
		VitalityScore:  0, // caller (write lane) sets initial vitality via config
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
		ContentHash:    contentHash(content),
	}

	var addr types.Address
	err := s.db.Update(func(tx *bolt.Tx) error {
		pb := tx.Bucket(bucketPaths)
		token := title
		if token == "" {
			token = uniqueToken(pb, domain, parentPath)
		} else {
			full := joinPath(parentPath, token)
			var existing types.Path
			found, err := getJSON(pb, domain+"|"+full, &existing)
			if err != nil {
				return err
			}
			if found {
				return errs.New(errs.InvalidTitle, "title already used under parent: "+token)
			}
		}
		full := joinPath(parentPath, token)
		addr = types.Address{Domain: domain, Path: full}

		if err := putJSON(tx.Bucket(bucketMemories), mem.ID, &mem); err != nil {
			return err
		}
		p := types.Path{Domain: domain, Path: full, MemoryID: mem.ID}
		return putJSON(pb, pathKey(addr), &p)
	})
	if err != nil {
		return nil, types.Address{}, err
	}

	s.mu.Lock()
	s.fulltext.index(mem.ID, mem.Content)
	s.mu.Unlock()

	return &mem, addr, nil
}

func joinPath(parent, token string) string {
	if parent == "" {
		return token
	}
	return parent + "/" + token
}

func uniqueToken(pb *bolt.Bucket, domain, parentPath string) string {
	for i := 1; ; i++ {
		token := fmt.Sprintf("%d", i)
		full := joinPath(parentPath, token)
		data := pb.Get([]byte(domain + "|" + full))
		if data == nil {
			return token
		}
	}
}

func validTitle(title string) bool {
	if title == "" {
		return false
	}
	for _, r := range title {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '-') {
			return false
		}
	}
	return true
}

// UpdatePatch replaces exactly one occurrence of old with new in the
// memory's content.
func (s *Store) UpdatePatch(memoryID, old, newText string) (*types.Memory, error) {
	var mem types.Memory
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMemories)
		found, err := getJSON(b, memoryID, &mem)
		if err != nil {
			return err
		}
		if !found {
			return errs.New(errs.AddressNotFound, "memory not found: "+memoryID)
		}
		n := strings.Count(mem.Content, old)
		if n == 0 {
			return errs.New(errs.PatchNotFound, "old text not found in content")
		}
		if n > 1 {
			return errs.New(errs.PatchAmbiguous, "old text appears more than once")
		}
		mem.Content = strings.Replace(mem.Content, old, newText, 1)
		mem.ContentHash = contentHash(mem.Content)
		mem.UpdatedAt = time.Now()
		return putJSON(b, memoryID, &mem)
	})
	if err != nil {
		return nil, err
	}
	s.reindexContent(mem.ID, mem.Content)
	return &mem, nil
}

// UpdateAppend appends tail to the memory's content.
func (s *Store) UpdateAppend(memoryID, tail string) (*types.Memory, error) {
	var mem types.Memory
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMemories)
		found, err := getJSON(b, memoryID, &mem)
		if err != nil {
			return err
		}
		if !found {
			return errs.New(errs.AddressNotFound, "memory not found: "+memoryID)
		}
		mem.Content = mem.Content + tail
		mem.ContentHash = contentHash(mem.Content)
		mem.UpdatedAt = time.Now()
		return putJSON(b, memoryID, &mem)
	})
	if err != nil {
		return nil, err
	}
	s.reindexContent(mem.ID, mem.Content)
	return &mem, nil
}

// UpdateMeta updates priority and/or disclosure without touching content.
// Metadata-only updates never trigger a full index rebuild.
func (s *Store) UpdateMeta(memoryID string, priority *int, disclosure *string) (*types.Memory, error) {
	if priority != nil && *priority < 0 {
		return nil, errs.New(errs.InvalidPriority, "priority must be >= 0")
	}
	var mem types.Memory
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMemories)
		found, err := getJSON(b, memoryID, &mem)
		if err != nil {
			return err
		}
		if !found {
			return errs.New(errs.AddressNotFound, "memory not found: "+memoryID)
		}
		if priority != nil {
			mem.Priority = *priority
		}
		if disclosure != nil {
			mem.Disclosure = *disclosure
		}
		mem.UpdatedAt = time.Now()
		return putJSON(b, memoryID, &mem)
	})
	if err != nil {
		return nil, err
	}
	return &mem, nil
}

func (s *Store) reindexContent(memoryID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fulltext.remove(memoryID)
	s.fulltext.index(memoryID, content)
}

// Delete removes a path. The underlying memory becomes deprecated iff this
// was its last surviving path.
func (s *Store) Delete(addr types.Address) (survivingPaths []string, deprecated bool, err error) {
	var memoryID string
	err = s.db.Update(func(tx *bolt.Tx) error {
		pb := tx.Bucket(bucketPaths)
		var p types.Path
		found, ferr := getJSON(pb, pathKey(addr), &p)
		if ferr != nil {
			return ferr
		}
		if !found {
			return errs.New(errs.AddressNotFound, "no such address: "+addr.String())
		}
		memoryID = p.MemoryID
		if err := pb.Delete([]byte(pathKey(addr))); err != nil {
			return err
		}

		remaining, err := listPathsForMemory(pb, memoryID)
		if err != nil {
			return err
		}
		for _, rp := range remaining {
			survivingPaths = append(survivingPaths, rp.Address())
		}

		if len(remaining) == 0 {
			deprecated = true
			mb := tx.Bucket(bucketMemories)
			var mem types.Memory
			found, err := getJSON(mb, memoryID, &mem)
			if err != nil {
				return err
			}
			if found {
				mem.Deprecated = true
				mem.UpdatedAt = time.Now()
				if err := putJSON(mb, memoryID, &mem); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if deprecated {
		s.mu.Lock()
		s.fulltext.remove(memoryID)
		s.mu.Unlock()
	}
	return survivingPaths, deprecated, nil
}

// PathsForMemory returns every surviving path for a memory, used by the
// retrieval pipeline's domain/path-prefix filters.
func (s *Store) PathsForMemory(memoryID string) ([]types.Path, error) {
	var out []types.Path
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = listPathsForMemory(tx.Bucket(bucketPaths), memoryID)
		return err
	})
	return out, err
}

func listPathsForMemory(pb *bolt.Bucket, memoryID string) ([]types.Path, error) {
	var out []types.Path
	err := pb.ForEach(func(k, v []byte) error {
		var p types.Path
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}
		if p.MemoryID == memoryID {
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

// AddAlias creates a new path pointing at an existing memory (resolved
// through targetAddr).
func (s *Store) AddAlias(newAddr, targetAddr types.Address, priority int, disclosure string) (*types.Memory, error) {
	var mem types.Memory
	err := s.db.Update(func(tx *bolt.Tx) error {
		pb := tx.Bucket(bucketPaths)
		var target types.Path
		found, err := getJSON(pb, pathKey(targetAddr), &target)
		if err != nil {
			return err
		}
		if !found {
			return errs.New(errs.AddressNotFound, "alias target not found: "+targetAddr.String())
		}

		var existing types.Path
		found, err = getJSON(pb, pathKey(newAddr), &existing)
		if err != nil {
			return err
		}
		if found {
			return errs.New(errs.InvalidPath, "address already in use: "+newAddr.String())
		}

		alias := types.Path{Domain: newAddr.Domain, Path: newAddr.Path, MemoryID: target.MemoryID, Alias: true}
		if err := putJSON(pb, pathKey(newAddr), &alias); err != nil {
			return err
		}

		mb := tx.Bucket(bucketMemories)
		found, err = getJSON(mb, target.MemoryID, &mem)
		if err != nil {
			return err
		}
		if !found {
			return errs.New(errs.AddressNotFound, "dangling alias target")
		}
		if priority > 0 {
			mem.Priority = priority
		}
		if disclosure != "" {
			mem.Disclosure = disclosure
		}
		mem.UpdatedAt = time.Now()
		return putJSON(mb, target.MemoryID, &mem)
	})
	if err != nil {
		return nil, err
	}
	return &mem, nil
}

// ListChildren lists the direct paths whose path is one token deeper than
// the given address within the same domain.
func (s *Store) ListChildren(addr types.Address) ([]types.Path, error) {
	var out []types.Path
	prefix := addr.Path
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPaths).ForEach(func(k, v []byte) error {
			var p types.Path
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.Domain != addr.Domain {
				return nil
			}
			if prefix != "" && !strings.HasPrefix(p.Path, prefix+"/") {
				return nil
			}
			if prefix == "" && strings.Contains(p.Path, "/") {
				return nil
			}
			rest := strings.TrimPrefix(p.Path, prefix)
			rest = strings.TrimPrefix(rest, "/")
			if prefix != "" && strings.Contains(rest, "/") {
				return nil
			}
			out = append(out, p)
			return nil
		})
	})
	return out, err
}

// ListOrphans returns memories that no longer have any surviving path yet
// are not marked deprecated (a consistency-repair view).
func (s *Store) ListOrphans() ([]types.Memory, error) {
	var out []types.Memory
	err := s.db.View(func(tx *bolt.Tx) error {
		referenced := map[string]bool{}
		if err := tx.Bucket(bucketPaths).ForEach(func(k, v []byte) error {
			var p types.Path
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			referenced[p.MemoryID] = true
			return nil
		}); err != nil {
			return err
		}
		return tx.Bucket(bucketMemories).ForEach(func(k, v []byte) error {
			var m types.Memory
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if !m.Deprecated && !referenced[m.ID] {
				out = append(out, m)
			}
			return nil
		})
	})
	return out, err
}

// ListCleanupCandidates returns non-deprecated memories whose vitality is
// at or below threshold and whose last access is older than inactiveDays,
// sorted by vitality ascending, capped at limit.
func (s *Store) ListCleanupCandidates(threshold float64, inactiveDays int, limit int) ([]types.Memory, error) {
	cutoff := time.Now().AddDate(0, 0, -inactiveDays)
	var out []types.Memory
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMemories).ForEach(func(k, v []byte) error {
			var m types.Memory
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.Deprecated {
				return nil
			}
			if m.VitalityScore <= threshold && m.LastAccessedAt.Before(cutoff) {
				out = append(out, m)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VitalityScore < out[j].VitalityScore })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CanDelete reports whether a memory currently has zero surviving paths
// (i.e. is already an orphan / deprecated, and thus safe to physically
// delete during cleanup confirm).
func (s *Store) CanDelete(memoryID string) (bool, error) {
	var live bool
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPaths).ForEach(func(k, v []byte) error {
			var p types.Path
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.MemoryID == memoryID {
				live = true
			}
			return nil
		})
	})
	if err != nil {
		return false, err
	}
	return !live, nil
}

// PhysicallyDelete removes a memory record and its gist entirely. Used by
// cleanup confirm and by sleep-consolidation apply, never by the plain
// Delete write path; both callers check CanDelete first.
func (s *Store) PhysicallyDelete(memoryID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketMemories).Delete([]byte(memoryID)); err != nil {
			return err
		}
		return tx.Bucket(bucketGists).Delete([]byte(memoryID))
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.fulltext.remove(memoryID)
	s.vectors.remove(memoryID)
	s.mu.Unlock()
	return nil
}

// SetVitality sets a memory's vitality to the given value (used by
// cleanup "keep" outcomes and read-time reinforcement).
func (s *Store) SetVitality(memoryID string, score float64, accessed bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMemories)
		var mem types.Memory
		found, err := getJSON(b, memoryID, &mem)
		if err != nil {
			return err
		}
		if !found {
			return errs.New(errs.AddressNotFound, "memory not found: "+memoryID)
		}
		mem.VitalityScore = score
		if accessed {
			mem.LastAccessedAt = time.Now()
			mem.AccessCount++
		}
		return putJSON(b, memoryID, &mem)
	})
}

// StateHash returns a short hash of a memory's mutable state, used by
// cleanup review to detect staleness between prepare and confirm.
func (s *Store) StateHash(memoryID string) (string, error) {
	mem, err := s.GetMemory(memoryID)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%f|%v", mem.ContentHash, mem.VitalityScore, mem.Deprecated)))
	return hex.EncodeToString(sum[:8]), nil
}

// UpsertGist inserts or replaces the gist for a memory, keyed by content
// hash. A stale gist (different source hash) is overwritten.
func (s *Store) UpsertGist(g types.Gist) error {
	g.UpdatedAt = time.Now()
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketGists), g.MemoryID, &g)
	})
}

// GetGist returns the current gist for a memory, if any.
func (s *Store) GetGist(memoryID string) (*types.Gist, error) {
	var g types.Gist
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket(bucketGists), memoryID, &g)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &g, nil
}

// RestoreContent restores a memory's raw JSON bytes captured by a snapshot.
// Used exclusively by the Snapshot Ledger's Rollback, which itself runs
// through the Write Lane.
func (s *Store) RestoreContent(memoryID string, preState []byte) error {
	var mem types.Memory
	if err := json.Unmarshal(preState, &mem); err != nil {
		return fmt.Errorf("store: invalid snapshot pre_state: %w", err)
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketMemories), memoryID, &mem)
	})
	if err != nil {
		return err
	}
	s.reindexContent(memoryID, mem.Content)
	return nil
}

// RawMemoryJSON returns the exact bytes stored for a memory, for use as a
// Snapshot's pre_state.
func (s *Store) RawMemoryJSON(memoryID string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMemories).Get([]byte(memoryID))
		if v == nil {
			return errs.New(errs.AddressNotFound, "memory not found: "+memoryID)
		}
		data = append([]byte(nil), v...)
		return nil
	})
	return data, err
}

// PutSnapshot persists one pending snapshot to the snapshots bucket, keyed
// by its (session_id, resource_id) review key, so a pending rollback
// survives a process restart (spec.md §4.5).
func (s *Store) PutSnapshot(snap types.Snapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketSnapshots), snap.Key(), &snap)
	})
}

// DeleteSnapshot removes a persisted snapshot by its review key, called
// once a snapshot is approved, rolled back, discarded, or cleared.
func (s *Store) DeleteSnapshot(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Delete([]byte(key))
	})
}

// ListSnapshots returns every persisted snapshot, for the Ledger to warm
// its in-memory table from on startup.
func (s *Store) ListSnapshots() ([]types.Snapshot, error) {
	var out []types.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(k, v []byte) error {
			var snap types.Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return err
			}
			out = append(out, snap)
			return nil
		})
	})
	return out, err
}

// Keyword performs a BM25-ranked full-text search over the in-memory
// inverted index, returning up to limit memory ids with scores.
func (s *Store) Keyword(query string, limit int) []ScoredID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fulltext.search(query, limit)
}

// IndexVector inserts or replaces a memory's embedding in the vector side
// index. Called by the index worker, never inline on the write path.
func (s *Store) IndexVector(memoryID string, vec []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors.set(memoryID, vec)
}

// Vector performs a cosine-similarity search over the vector side index.
func (s *Store) Vector(query []float64, limit int) []ScoredID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vectors.search(query, limit)
}

// HasVector reports whether a memory currently has a vector entry.
func (s *Store) HasVector(memoryID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vectors.has(memoryID)
}

// AllVectors returns a snapshot copy of every memory id currently carrying
// a vector, for governance's sleep-consolidation dedup clustering.
func (s *Store) AllVectors() map[string][]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]float64, len(s.vectors.vectors))
	for id, vec := range s.vectors.vectors {
		out[id] = append([]float64(nil), vec...)
	}
	return out
}

// RebuildFullText discards and rebuilds the in-memory full-text index from
// the durable store. Called by the index worker's rebuild_index task.
func (s *Store) RebuildFullText() error {
	fresh := newInvertedIndex()
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMemories).ForEach(func(k, v []byte) error {
			var m types.Memory
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if !m.Deprecated {
				fresh.index(m.ID, m.Content)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.fulltext = fresh
	s.mu.Unlock()
	log.WithComponent("store").Info().Msg("full-text index rebuilt")
	return nil
}

// ScoredID pairs a memory id with a relevance score.
type ScoredID struct {
	MemoryID string
	Score    float64
}
