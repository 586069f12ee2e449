package exchange

import (
	"sync/atomic"
	"time"
)

// nIBuffs is the depth of the staging ring.
const nIBuffs = 8

// IBuffer is one staging slot. Ownership toggles strictly through the done
// flag: the producer (compute) may fill a slot only while done is false
// after it flipped it from true; the writer flips it back once the slot is
// persisted.
type IBuffer struct {
	Packs    []PartialResult
	Ibuff    []uint16
	BatchNum int
	NumSpecs int
	// CurrPtr is the staged sample payload size in bytes. It is already a
	// byte count; never multiply it by a sample width again.
	CurrPtr int

	done atomic.Bool
}

func newIBuffer(qchunk int) *IBuffer {
	b := &IBuffer{
		Packs: make([]PartialResult, qchunk),
		Ibuff: make([]uint16, qchunk*XSamples),
	}
	b.done.Store(true)
	return b
}

// SetSpectrum stores spectrum q's partial result and its survival samples.
// Distinct q values may be written concurrently.
func (b *IBuffer) SetSpectrum(q int, p PartialResult, samples []uint16) {
	b.Packs[q] = p
	copy(b.Ibuff[q*XSamples:(q+1)*XSamples], samples)
}

// Samples returns spectrum q's staged sample row.
func (b *IBuffer) Samples(q int) []uint16 {
	return b.Ibuff[q*XSamples : (q+1)*XSamples]
}

// waitDone spins until the writer has released the slot.
func (b *IBuffer) waitDone() {
	for !b.done.Load() {
		time.Sleep(10 * time.Millisecond)
	}
}
