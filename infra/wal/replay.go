package wal

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

var (
	ErrCorrupt      = errors.New("wal: crc mismatch")
	ErrNonMonotonic = errors.New("wal: non-monotonic seq")
)

type ReplayHandler func(*Record) error

// Replay feeds every record in dir to fn in write order. A record cut short
// at the very end of the last segment is a torn write and ends the replay.
func Replay(dir string, fn ReplayHandler) (lastSeq uint64, err error) {
	paths, _, err := segments(dir)
	if err != nil {
		return 0, err
	}

	for i, path := range paths {
		last := i == len(paths)-1
		lastSeq, err = replaySegment(path, last, lastSeq, fn)
		if err != nil {
			return lastSeq, err
		}
	}
	return lastSeq, nil
}

func replaySegment(path string, last bool, lastSeq uint64, fn ReplayHandler) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return lastSeq, err
	}
	defer f.Close()

	for {
		rec, err := readRecord(f)
		if err != nil {
			if err == io.EOF {
				return lastSeq, nil
			}
			if last && errors.Is(err, io.ErrUnexpectedEOF) {
				return lastSeq, nil
			}
			return lastSeq, errors.Wrapf(err, "read %s", path)
		}

		if rec.Seq <= lastSeq {
			return lastSeq, errors.Wrapf(ErrNonMonotonic, "seq %d after %d", rec.Seq, lastSeq)
		}
		lastSeq = rec.Seq

		if err := fn(rec); err != nil {
			return lastSeq, err
		}
	}
}

func readRecord(r io.Reader) (*Record, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	h := parseHeader(header)

	data := make([]byte, h.length+trailerSize)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	payload := data[:h.length]
	if checksum(header, payload) != binary.BigEndian.Uint32(data[h.length:]) {
		return nil, errors.Wrapf(ErrCorrupt, "seq %d", h.seq)
	}

	return &Record{
		Type: h.typ,
		Seq:  h.seq,
		Time: h.time,
		Data: payload,
	}, nil
}
