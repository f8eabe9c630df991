package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrNotFound is returned when no journaled manifest matches.
var ErrNotFound = errors.New("manifest not found")

// Journal stores manifests as JSON files, one per cycle, so the last plan
// stays readable from other processes and after failed cycles.
type Journal struct {
	dir string
	mu  sync.Mutex
}

// NewJournal returns a journal rooted at dir. The directory is created on
// the first Save.
func NewJournal(dir string) (*Journal, error) {
	if dir == "" {
		return nil, errors.New("journal directory cannot be empty")
	}
	return &Journal{dir: dir}, nil
}

// Dir returns the journal directory.
func (j *Journal) Dir() string { return j.dir }

// NewID returns a sortable manifest identifier.
func NewID() string {
	return ulid.Make().String()
}

// Save writes m atomically, assigning an ID and timestamp when missing.
func (j *Journal) Save(m *Manifest) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if m.ID == "" {
		m.ID = NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return fmt.Errorf("creating journal directory: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	path := filepath.Join(j.dir, fileName(m.Target, m.ID))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming manifest: %w", err)
	}
	return nil
}

func fileName(target, id string) string {
	if target == "" {
		target = "_"
	}
	return fmt.Sprintf("%s--%s.json", target, id)
}

// files returns journal file names for target ("" for all), newest first.
// ULIDs sort by creation time, so a reverse lexical sort on the ID part is
// chronological.
func (j *Journal) files(target string) ([]string, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading journal directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		t, _, ok := strings.Cut(name, "--")
		if !ok || (target != "" && t != target) {
			continue
		}
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		return strings.Compare(idPart(b), idPart(a))
	})
	return names, nil
}

func idPart(name string) string {
	_, id, _ := strings.Cut(strings.TrimSuffix(name, ".json"), "--")
	return id
}

func (j *Journal) read(name string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(j.dir, name))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	return &m, nil
}

// Latest returns the newest manifest for target.
func (j *Journal) Latest(target string) (*Manifest, error) {
	list, err := j.List(target, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: target %q", ErrNotFound, target)
	}
	return &list[0], nil
}

// List returns up to limit manifests for target, newest first. Unreadable
// files are skipped. limit <= 0 returns all.
func (j *Journal) List(target string, limit int) ([]Manifest, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	names, err := j.files(target)
	if err != nil {
		return nil, err
	}
	out := []Manifest{}
	for _, name := range names {
		m, err := j.read(name)
		if err != nil {
			continue
		}
		out = append(out, *m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Get returns the manifest with the given ID.
func (j *Journal) Get(id string) (*Manifest, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrNotFound)
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	names, err := j.files("")
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if idPart(name) == id {
			return j.read(name)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Prune keeps the newest keep manifests for target and removes the rest.
func (j *Journal) Prune(target string, keep int) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	names, err := j.files(target)
	if err != nil {
		return 0, err
	}
	removed := 0
	for i, name := range names {
		if i < keep {
			continue
		}
		if err := os.Remove(filepath.Join(j.dir, name)); err == nil {
			removed++
		}
	}
	return removed, nil
}
