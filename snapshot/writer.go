package snapshot

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
)

const filePattern = "snapshot-*.gob"

var ErrNoSnapshot = errors.New("snapshot: none found")

type Writer struct {
	Dir string
	// Keep is how many snapshots survive a write; zero keeps all.
	Keep int
}

// Write stores s as snapshot-<height>.gob. The file is written under a
// temporary name and renamed, so readers never see a partial snapshot.
func (w *Writer) Write(s *Snapshot) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(w.Dir, fmt.Sprintf("snapshot-%020d.gob", s.Height))
	f, err := os.CreateTemp(w.Dir, ".snapshot-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(f.Name())

	if err := gob.NewEncoder(f).Encode(s); err != nil {
		_ = f.Close()
		return "", errors.Wrap(err, "encode snapshot")
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return "", err
	}
	return path, w.prune()
}

func (w *Writer) prune() error {
	if w.Keep <= 0 {
		return nil
	}
	paths, err := list(w.Dir)
	if err != nil {
		return err
	}
	for len(paths) > w.Keep {
		if err := os.Remove(paths[0]); err != nil {
			return err
		}
		paths = paths[1:]
	}
	return nil
}

func list(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, filePattern))
	if err != nil {
		return nil, err
	}
	// zero-padded heights sort lexically
	sort.Strings(paths)
	return paths, nil
}

// Latest returns the path of the newest snapshot in dir.
func Latest(dir string) (string, error) {
	paths, err := list(dir)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", errors.Wrapf(ErrNoSnapshot, "in %s", dir)
	}
	return paths[len(paths)-1], nil
}

func Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var s Snapshot
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return &s, nil
}
