package store

import (
	"fmt"
	"os"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/memorypalace/core/pkg/errs"
)

// migration is a single forward-only schema step, identified by a
// monotonic version and a checksum of its intent (used to detect a binary
// that disagrees with what was already applied).
type migration struct {
	version  int
	checksum string
	apply    func(tx *bolt.Tx) error
}

// migrations is the ordered set of schema steps. Bucket creation happens
// unconditionally in Open; this registry is for steps that reshape
// existing data and so must run at most once.
var migrations = []migration{
	{
		version:  1,
		checksum: "base-buckets",
		apply:    func(tx *bolt.Tx) error { return nil },
	},
}

// ApplyMigrations runs any migration steps not yet recorded in the
// schema_migrations bucket, guarded by an on-disk advisory lock file so two
// processes opening the same data directory never race the migration.
func (s *Store) ApplyMigrations(lockPath string, lockTimeout time.Duration) error {
	release, err := acquireLock(lockPath, lockTimeout)
	if err != nil {
		return err
	}
	defer release()

	return s.db.Update(func(tx *bolt.Tx) error {
		mb := tx.Bucket(bucketMigrations)
		for _, m := range migrations {
			key := []byte(strconv.Itoa(m.version))
			existing := mb.Get(key)
			if existing != nil {
				if string(existing) != m.checksum {
					return errs.New(errs.MigrationChecksumBad,
						fmt.Sprintf("migration %d checksum mismatch: stored %q, binary %q", m.version, existing, m.checksum))
				}
				continue
			}
			if err := m.apply(tx); err != nil {
				return fmt.Errorf("migration %d failed: %w", m.version, err)
			}
			if err := mb.Put(key, []byte(m.checksum)); err != nil {
				return err
			}
		}
		return nil
	})
}

// acquireLock creates lockPath exclusively, polling until it succeeds or
// timeout elapses. A stale lock (older than timeout) is assumed to belong
// to a crashed process and is reclaimed.
func acquireLock(lockPath string, timeout time.Duration) (release func(), err error) {
	if lockPath == "" {
		return func() {}, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("store: failed to create migration lock: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > timeout {
			os.Remove(lockPath)
			continue
		}

		if time.Now().After(deadline) {
			return nil, errs.New(errs.MigrationLockTimeout, "timed out waiting for migration lock: "+lockPath)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
