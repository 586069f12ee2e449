package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
)

// MagicBytes identifies a valid .gidx index segment file.
const (
	MagicBytes    uint32 = 0x47494458
	FormatVersion uint32 = 1
	headerSize           = 40
)

// segment header layout, little-endian:
//
//	magic(4) version(4) peplen(4) entryCount(8) chunkCount(4)
//	chunkSize(4) lastChunkSize(4) baLen(8)
//
// followed by entries (mass float64 + seqID uint32 each), then per chunk the
// BA array and a length-prefixed IA array, then a crc32 footer over
// everything after the header.

// Load reads the fragment-ion index for peptide lengths [minLen, maxLen] from
// dbpath. One pep_<len>.gidx file is expected per length.
func Load(dbpath string, minLen, maxLen int) ([]ChunkIndex, error) {
	chunks := make([]ChunkIndex, 0, maxLen-minLen+1)
	for plen := minLen; plen <= maxLen; plen++ {
		path := filepath.Join(dbpath, fmt.Sprintf("pep_%d.gidx", plen))
		ci, err := ReadSegment(path)
		if err != nil {
			return nil, fmt.Errorf("loading index for peptide length %d: %w", plen, err)
		}
		if ci.PepLen != plen {
			return nil, fmt.Errorf("index file %s: peplen %d does not match file name", path, ci.PepLen)
		}
		chunks = append(chunks, *ci)
	}
	return chunks, nil
}

// ReadSegment reads and validates a single .gidx segment file.
func ReadSegment(path string) (*ChunkIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening index segment: %w", err)
	}
	defer f.Close()

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("reading segment header: %w", err)
	}
	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != MagicBytes {
		return nil, fmt.Errorf("bad magic %#x in %s", magic, path)
	}
	if version := binary.LittleEndian.Uint32(header[4:8]); version != FormatVersion {
		return nil, fmt.Errorf("unsupported segment version %d in %s", version, path)
	}

	ci := &ChunkIndex{
		PepLen:        int(binary.LittleEndian.Uint32(header[8:12])),
		ChunkSize:     int(binary.LittleEndian.Uint32(header[24:28])),
		LastChunkSize: int(binary.LittleEndian.Uint32(header[28:32])),
	}
	entryCount := binary.LittleEndian.Uint64(header[12:20])
	chunkCount := binary.LittleEndian.Uint32(header[20:24])
	baLen := binary.LittleEndian.Uint64(header[32:40])

	// The tee wraps the buffered reader so only bytes actually delivered to
	// the decoder are hashed; read-ahead inside bufio stays out of the sum.
	crc := crc32.NewIEEE()
	r := io.TeeReader(bufio.NewReaderSize(f, 1<<20), crc)

	ci.Entries = make([]PepEntry, entryCount)
	for i := range ci.Entries {
		var buf [12]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, fmt.Errorf("reading peptide entry %d: %w", i, err)
		}
		ci.Entries[i].Mass = math.Float64frombits(binary.LittleEndian.Uint64(buf[0:8]))
		ci.Entries[i].SeqID = binary.LittleEndian.Uint32(buf[8:12])
	}

	ci.Chunks = make([]IonChunk, chunkCount)
	for c := range ci.Chunks {
		ba, err := readUint32Slice(r, int(baLen))
		if err != nil {
			return nil, fmt.Errorf("reading bA of chunk %d: %w", c, err)
		}
		var lenBuf [8]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("reading iA length of chunk %d: %w", c, err)
		}
		iaLen := binary.LittleEndian.Uint64(lenBuf[:])
		ia, err := readUint32Slice(r, int(iaLen))
		if err != nil {
			return nil, fmt.Errorf("reading iA of chunk %d: %w", c, err)
		}
		ci.Chunks[c] = IonChunk{BA: ba, IA: ia}
	}

	// Snapshot the checksum before the footer passes through the tee.
	want := crc.Sum32()
	var footer [4]byte
	if _, err := io.ReadFull(r, footer[:]); err != nil {
		return nil, fmt.Errorf("reading segment footer: %w", err)
	}
	if stored := binary.LittleEndian.Uint32(footer[:]); stored != want {
		return nil, fmt.Errorf("checksum mismatch in %s", path)
	}

	return ci, nil
}

func readUint32Slice(r io.Reader, n int) ([]uint32, error) {
	buf := make([]byte, n*4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
	}
	return out, nil
}
