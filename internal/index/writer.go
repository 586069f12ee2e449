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

// WriteSegment serialises a ChunkIndex into a .gidx segment file for its
// peptide length. It writes to a .tmp file first and renames on success.
// The index builder produces these files; tests use it to round-trip the
// reader.
func WriteSegment(dbpath string, ci *ChunkIndex) (string, error) {
	if len(ci.Entries) == 0 {
		return "", fmt.Errorf("cannot write empty index segment")
	}
	baLen := 0
	if len(ci.Chunks) > 0 {
		baLen = len(ci.Chunks[0].BA)
	}
	for c, chunk := range ci.Chunks {
		if len(chunk.BA) != baLen {
			return "", fmt.Errorf("chunk %d bA length %d differs from %d", c, len(chunk.BA), baLen)
		}
	}

	name := fmt.Sprintf("pep_%d.gidx", ci.PepLen)
	finalPath := filepath.Join(dbpath, name)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(dbpath, 0755); err != nil {
		return "", fmt.Errorf("creating index directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	defer f.Close()

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(header[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(ci.PepLen))
	binary.LittleEndian.PutUint64(header[12:20], uint64(len(ci.Entries)))
	binary.LittleEndian.PutUint32(header[20:24], uint32(len(ci.Chunks)))
	binary.LittleEndian.PutUint32(header[24:28], uint32(ci.ChunkSize))
	binary.LittleEndian.PutUint32(header[28:32], uint32(ci.LastChunkSize))
	binary.LittleEndian.PutUint64(header[32:40], uint64(baLen))
	if _, err := f.Write(header); err != nil {
		return "", fmt.Errorf("writing header: %w", err)
	}

	crc := crc32.NewIEEE()
	bw := bufio.NewWriterSize(f, 1<<20)
	w := io.MultiWriter(bw, crc)

	var buf [12]byte
	for _, e := range ci.Entries {
		binary.LittleEndian.PutUint64(buf[0:8], math.Float64bits(e.Mass))
		binary.LittleEndian.PutUint32(buf[8:12], e.SeqID)
		if _, err := w.Write(buf[:]); err != nil {
			return "", fmt.Errorf("writing peptide entries: %w", err)
		}
	}
	for c, chunk := range ci.Chunks {
		if err := writeUint32Slice(w, chunk.BA); err != nil {
			return "", fmt.Errorf("writing bA of chunk %d: %w", c, err)
		}
		var lenBuf [8]byte
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(chunk.IA)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			return "", fmt.Errorf("writing iA length of chunk %d: %w", c, err)
		}
		if err := writeUint32Slice(w, chunk.IA); err != nil {
			return "", fmt.Errorf("writing iA of chunk %d: %w", c, err)
		}
	}

	var footer [4]byte
	binary.LittleEndian.PutUint32(footer[:], crc.Sum32())
	if _, err := bw.Write(footer[:]); err != nil {
		return "", fmt.Errorf("writing footer: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return "", fmt.Errorf("flushing segment file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing segment file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	return name, nil
}

func writeUint32Slice(w io.Writer, vals []uint32) error {
	buf := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], v)
	}
	_, err := w.Write(buf)
	return err
}
