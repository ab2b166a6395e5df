package offline

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"github.com/wandb/simplejsonext"
)

const itemFileExt = ".json"

// FileStorage is a Storage that keeps one file per buffered item in a
// directory. File names start with the item ID, so lexicographic directory
// order is insertion order.
//
// The filesystem is abstracted with afero; production uses the OS
// filesystem and tests use an in-memory one.
type FileStorage struct {
	fs  afero.Fs
	dir string

	mu sync.Mutex
}

var _ Storage = &FileStorage{}

// NewFileStorage creates a file-backed storage rooted at dir on the OS
// filesystem.
func NewFileStorage(dir string) *FileStorage {
	return NewFileStorageFs(afero.NewOsFs(), dir)
}

// NewFileStorageFs is like NewFileStorage with an explicit filesystem.
func NewFileStorageFs(fs afero.Fs, dir string) *FileStorage {
	return &FileStorage{fs: fs, dir: dir}
}

func (f *FileStorage) Initialize() error {
	if err := f.fs.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (f *FileStorage) path(id string) string {
	return filepath.Join(f.dir, id+itemFileExt)
}

func (f *FileStorage) Store(item Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := simplejsonext.Marshal(map[string]any{
		"id":          item.ID,
		"kind":        item.Kind,
		"payload":     base64.StdEncoding.EncodeToString(item.Payload),
		"enqueued_at": item.EnqueuedAt.UnixMicro(),
		"retry_count": int64(item.RetryCount),
	})
	if err != nil {
		return fmt.Errorf("offline: marshal item %s: %v", item.ID, err)
	}

	err = afero.WriteFile(f.fs, f.path(item.ID), data, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (f *FileStorage) Retrieve(limit int) ([]Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids, err := f.sortedIDs()
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		if limit > 0 && len(items) == limit {
			break
		}
		data, err := afero.ReadFile(f.fs, f.path(id))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		item, err := parseItem(data)
		if err != nil {
			// A corrupt file would wedge the flush loop forever, so it
			// gets removed instead of returned. It does not count against
			// the batch limit.
			_ = f.fs.Remove(f.path(id))
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (f *FileStorage) Remove(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.fs.Remove(f.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (f *FileStorage) Count() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids, err := f.sortedIDs()
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (f *FileStorage) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids, err := f.sortedIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := f.fs.Remove(f.path(id)); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}
	return nil
}

func (f *FileStorage) Dispose() error { return nil }

// sortedIDs lists item IDs in insertion order. Callers must hold the mutex.
func (f *FileStorage) sortedIDs() ([]string, error) {
	infos, err := afero.ReadDir(f.fs, f.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	var ids []string
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || !strings.HasSuffix(name, itemFileExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, itemFileExt))
	}
	sort.Strings(ids)
	return ids, nil
}

func parseItem(data []byte) (Item, error) {
	fields, err := simplejsonext.UnmarshalObject(data)
	if err != nil {
		return Item{}, err
	}

	item := Item{}
	if s, ok := fields["id"].(string); ok {
		item.ID = s
	}
	if s, ok := fields["kind"].(string); ok {
		item.Kind = s
	}
	if s, ok := fields["payload"].(string); ok {
		payload, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return Item{}, err
		}
		item.Payload = payload
	}
	if micros, ok := asInt64(fields["enqueued_at"]); ok {
		item.EnqueuedAt = time.UnixMicro(micros)
	}
	if n, ok := asInt64(fields["retry_count"]); ok {
		item.RetryCount = int(n)
	}

	if item.ID == "" || item.Kind == "" {
		return Item{}, fmt.Errorf("offline: item missing id or kind")
	}
	return item, nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
