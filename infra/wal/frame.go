package wal

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
)

// Frame layout, big endian:
//
//	[type:1][seq:8][time:8][len:4][payload:len][crc32:4]
//
// The checksum covers header and payload.
const (
	headerSize  = 1 + 8 + 8 + 4
	trailerSize = 4
)

type frameHeader struct {
	typ    RecordType
	seq    uint64
	time   int64
	length uint32
}

func (h frameHeader) put(b []byte) {
	b[0] = byte(h.typ)
	binary.BigEndian.PutUint64(b[1:9], h.seq)
	binary.BigEndian.PutUint64(b[9:17], uint64(h.time))
	binary.BigEndian.PutUint32(b[17:21], h.length)
}

func parseHeader(b []byte) frameHeader {
	return frameHeader{
		typ:    RecordType(b[0]),
		seq:    binary.BigEndian.Uint64(b[1:9]),
		time:   int64(binary.BigEndian.Uint64(b[9:17])),
		length: binary.BigEndian.Uint32(b[17:21]),
	}
}

func checksum(header, payload []byte) uint32 {
	h := crc32.NewIEEE()
	_, _ = h.Write(header)
	_, _ = h.Write(payload)
	return h.Sum32()
}

// maxSeq reads only the headers of a segment and returns its highest seq.
// A torn tail ends the scan without error.
func maxSeq(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var max uint64
	header := make([]byte, headerSize)
	for {
		if _, err := io.ReadFull(f, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return max, nil
			}
			return max, err
		}
		h := parseHeader(header)
		if h.seq > max {
			max = h.seq
		}
		if _, err := f.Seek(int64(h.length)+trailerSize, io.SeekCurrent); err != nil {
			return max, err
		}
	}
}
