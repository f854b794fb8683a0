package store

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sowhat82/cravemap/internal/types"
)

// rateLimitFile is the single shared file holding anonymous daily counters,
// keyed "<fingerprint>_<day>".
const rateLimitFile = "rate_limits.json"

// FileStore persists one JSON document per user under a data directory.
// Writes go through a temp-file-and-rename so a crash never leaves a
// half-written record, and a per-user mutex serializes read-modify-write
// cycles within the process.
type FileStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// counterMu guards the shared daily-counter file.
	counterMu sync.Mutex
}

// NewFileStore creates the data directory if needed and returns a FileStore.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			"failed to create data directory", err)
	}
	return &FileStore{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the data directory backing this store. The backup snapshotter
// reads record files from here.
func (s *FileStore) Dir() string {
	return s.dir
}

// userLock returns the mutex for a user ID, creating it on first use.
func (s *FileStore) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// recordPath maps a user ID to its file. User IDs are hex digests (optionally
// "anon_"-prefixed) so they are always safe path components.
func (s *FileStore) recordPath(userID string) string {
	return filepath.Join(s.dir, userID+".json")
}

// Load retrieves a user record, returning a fresh zero-valued record when no
// file exists.
func (s *FileStore) Load(ctx context.Context, userID string) (*types.UserRecord, error) {
	data, err := os.ReadFile(s.recordPath(userID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.NewUserRecord(userID, "", time.Now().UTC()), nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			"failed to read user record", err)
	}

	var rec types.UserRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		// A corrupt record is unrecoverable; surface it rather than
		// silently resetting the user's counters.
		return nil, types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			"failed to decode user record", err)
	}
	return &rec, nil
}

// Save persists the record with an optimistic revision check.
func (s *FileStore) Save(ctx context.Context, rec *types.UserRecord) error {
	lock := s.userLock(rec.UserID)
	lock.Lock()
	defer lock.Unlock()

	path := s.recordPath(rec.UserID)

	// Revision check against what is currently on disk.
	current, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if rec.Revision != 0 {
			return types.NewAppError(types.ErrCodeConflictConcurrent,
				"record was deleted concurrently", nil)
		}
	case err != nil:
		return types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			"failed to read user record for revision check", err)
	default:
		var stored types.UserRecord
		if err := json.Unmarshal(current, &stored); err == nil && stored.Revision != rec.Revision {
			return types.NewAppError(types.ErrCodeConflictConcurrent,
				"record was modified concurrently", nil)
		}
	}

	rec.Revision++
	rec.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		rec.Revision--
		return types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			"failed to encode user record", err)
	}

	if err := s.writeAtomic(path, data); err != nil {
		rec.Revision--
		return err
	}
	return nil
}

// FindByCustomer scans the record files for a matching billing customer ID.
// The store holds one small file per user at this product's scale, so a
// linear scan on the rare webhook path is acceptable.
func (s *FileStore) FindByCustomer(ctx context.Context, customerID string) (*types.UserRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			"failed to list record files", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == rateLimitFile || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		var rec types.UserRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if rec.BillingCustomerID == customerID {
			return &rec, nil
		}
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundUser,
		"no record for billing customer", nil)
}

// writeAtomic writes data to path via a temp file and rename.
func (s *FileStore) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			"failed to create temp file", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			"failed to write temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			"failed to close temp file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			"failed to replace user record", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// DailyCounterStore
// ---------------------------------------------------------------------------

// IncrementDaily bumps the (key, day) counter in the shared rate-limit file,
// pruning entries older than the day before the given day.
func (s *FileStore) IncrementDaily(ctx context.Context, key string, day string) (int, error) {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()

	counters, err := s.readCounters()
	if err != nil {
		return 0, err
	}

	pruneCounters(counters, day)

	entry := key + "_" + day
	counters[entry]++
	count := counters[entry]

	data, err := json.Marshal(counters)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			"failed to encode rate-limit counters", err)
	}
	if err := s.writeAtomic(filepath.Join(s.dir, rateLimitFile), data); err != nil {
		return 0, err
	}
	return count, nil
}

// GetDaily returns the (key, day) counter without incrementing.
func (s *FileStore) GetDaily(ctx context.Context, key string, day string) (int, error) {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()

	counters, err := s.readCounters()
	if err != nil {
		return 0, err
	}
	return counters[key+"_"+day], nil
}

func (s *FileStore) readCounters() (map[string]int, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, rateLimitFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(map[string]int), nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			"failed to read rate-limit counters", err)
	}
	counters := make(map[string]int)
	if err := json.Unmarshal(data, &counters); err != nil {
		// Counter corruption is tolerable; limits restart from zero.
		return make(map[string]int), nil
	}
	return counters, nil
}

// pruneCounters drops entries for any day before yesterday relative to day.
// Only the current and previous calendar day are ever consulted, so the file
// stays bounded regardless of traffic.
func pruneCounters(counters map[string]int, day string) {
	today, err := time.Parse(types.DayKey, day)
	if err != nil {
		return
	}
	yesterday := today.AddDate(0, 0, -1).Format(types.DayKey)
	for entry := range counters {
		i := strings.LastIndex(entry, "_")
		if i < 0 {
			delete(counters, entry)
			continue
		}
		if d := entry[i+1:]; d != day && d != yesterday {
			delete(counters, entry)
		}
	}
}
