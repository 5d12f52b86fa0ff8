package wal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

const segmentGlob = "segment-*.wal"

type segment struct {
	file   *os.File
	index  int
	offset int64
}

func segmentPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("segment-%06d.wal", index))
}

func openSegment(dir string, index int) (*segment, error) {
	f, err := os.OpenFile(segmentPath(dir, index), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &segment{file: f, index: index, offset: st.Size()}, nil
}

// append writes one frame. A short write is cut back so the next frame
// starts on a frame boundary.
func (s *segment) append(b []byte) error {
	n, err := s.file.Write(b)
	if err != nil {
		if n > 0 {
			if terr := s.truncate(s.offset); terr != nil {
				return errors.CombineErrors(err, terr)
			}
		}
		return err
	}
	s.offset += int64(n)
	return nil
}

func (s *segment) truncate(off int64) error {
	if err := s.file.Truncate(off); err != nil {
		return errors.Wrapf(err, "truncate %s to %d", s.file.Name(), off)
	}
	s.offset = off
	return nil
}

// trimTorn drops a partial frame left at the end of the segment by a crash
// during append and returns the number of bytes removed. A frame that is
// complete but fails its checksum is reported as ErrCorrupt.
func (s *segment) trimTorn() (int64, error) {
	f, err := os.Open(s.file.Name())
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var valid int64
	for {
		rec, err := readRecord(f)
		if err == nil {
			valid += int64(headerSize + len(rec.Data) + trailerSize)
			continue
		}
		if err != io.EOF && !errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, errors.Wrapf(err, "scan %s", s.file.Name())
		}
		break
	}
	removed := s.offset - valid
	if removed == 0 {
		return 0, nil
	}
	return removed, s.truncate(valid)
}

func (s *segment) sync() error {
	return s.file.Sync()
}

func (s *segment) close() error {
	return s.file.Close()
}

// segments lists segment files in index order.
func segments(dir string) ([]string, []int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, segmentGlob))
	if err != nil {
		return nil, nil, err
	}
	idx := make([]int, 0, len(paths))
	kept := paths[:0]
	for _, p := range paths {
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(p), "segment-"), ".wal")
		i, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		kept = append(kept, p)
		idx = append(idx, i)
	}
	sort.Sort(byIndex{kept, idx})
	return kept, idx, nil
}

type byIndex struct {
	paths []string
	idx   []int
}

func (b byIndex) Len() int           { return len(b.idx) }
func (b byIndex) Less(i, j int) bool { return b.idx[i] < b.idx[j] }
func (b byIndex) Swap(i, j int) {
	b.idx[i], b.idx[j] = b.idx[j], b.idx[i]
	b.paths[i], b.paths[j] = b.paths[j], b.paths[i]
}
