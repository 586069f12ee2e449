// Package exchange implements the multi-node result exchange: per-spectrum
// partial distribution parameters and survival samples are staged into a ring
// of writable buffers, persisted by a single writer goroutine as per-batch
// files on the shared filesystem, and merged across ranks after the search
// loop so e-values are computed against the union of all index shards.
package exchange

import "encoding/binary"

// XSamples is the number of survival-histogram samples staged per spectrum.
const XSamples = 128

// sampleSize is the byte width of one survival sample.
const sampleSize = 2

// partialSize is the encoded byte width of a PartialResult.
const partialSize = 20

// PartialResult describes one spectrum's local score distribution: the
// lowest and highest occupied histogram buckets, the second-best bucket, the
// candidate count, and the global spectrum id.
type PartialResult struct {
	Min  int32
	Max2 int32
	Max  int32
	N    int32
	QID  int32
}

func (p PartialResult) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.Min))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.Max2))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(p.Max))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(p.N))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(p.QID))
}

func decodePartial(buf []byte) PartialResult {
	return PartialResult{
		Min:  int32(binary.LittleEndian.Uint32(buf[0:4])),
		Max2: int32(binary.LittleEndian.Uint32(buf[4:8])),
		Max:  int32(binary.LittleEndian.Uint32(buf[8:12])),
		N:    int32(binary.LittleEndian.Uint32(buf[12:16])),
		QID:  int32(binary.LittleEndian.Uint32(buf[16:20])),
	}
}
