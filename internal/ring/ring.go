// Package ring provides a fixed-capacity, single-producer/single-consumer
// ring buffer of fixed-width audio samples, with a lock-free prepare/commit
// fast path for the producer.
//
// All operations are expressed in samples, not bytes: a "sample" here is
// one interleaved audio frame (channels * bytes-per-sample), matching the
// unit the playback core reasons in.
package ring

import (
	"fmt"
	"sync/atomic"
)

// SampleRing is a lock-free SPSC ring of fixed-width samples. The zero
// value is not usable; construct with New.
//
// CanRead()+CanWrite() always equals Capacity(): the cursors only ever
// move forward (mod capacity), so there's no third state to track.
//
// Only one goroutine may call the producer operations (PrepareWrite,
// CommitWrite, Write, Skip) and only one (possibly different) goroutine
// may call Read, matching the producer-thread / device-callback split in
// internal/playback.
type SampleRing struct {
	buf        []byte
	sampleSize int    // bytes per sample
	capacity   uint64 // in samples
	writePos   atomic.Uint64
	readPos    atomic.Uint64
}

// New creates a ring able to hold capacity samples of sampleSize bytes
// each. Panics if either argument is non-positive, since a misconfigured
// ring is a programmer error, not a runtime condition to recover from.
func New(sampleSize int, capacity uint64) *SampleRing {
	if sampleSize <= 0 {
		panic(fmt.Sprintf("ring: sampleSize must be > 0, got %d", sampleSize))
	}
	if capacity == 0 {
		panic("ring: capacity must be > 0")
	}
	return &SampleRing{
		buf:        make([]byte, capacity*uint64(sampleSize)),
		sampleSize: sampleSize,
		capacity:   capacity,
	}
}

// SampleSize returns the byte width of one sample.
func (r *SampleRing) SampleSize() int { return r.sampleSize }

// Capacity returns the ring's capacity in samples.
func (r *SampleRing) Capacity() uint64 { return r.capacity }

// CanRead returns the number of samples currently readable. Callable from
// either side.
func (r *SampleRing) CanRead() uint64 {
	return r.writePos.Load() - r.readPos.Load()
}

// CanWrite returns the number of samples currently writable. Callable
// from either side.
func (r *SampleRing) CanWrite() uint64 {
	return r.capacity - r.CanRead()
}

// PrepareWrite copies n samples from src into the ring's write region
// without advancing the producer cursor. It is safe to call without
// holding the device lock because the consumer never touches the write
// region — only CommitWrite publishes it. The caller must ensure
// n <= CanWrite(); PrepareWrite panics otherwise.
func (r *SampleRing) PrepareWrite(src []byte, n uint64) {
	if n == 0 {
		return
	}
	if n > r.CanWrite() {
		panic(fmt.Sprintf("ring: prepare_write %d exceeds can_write %d", n, r.CanWrite()))
	}
	writePos := r.writePos.Load()
	r.copyIn(writePos, src, n)
}

// CommitWrite publishes n previously prepared samples by advancing the
// producer cursor. Must be called under the device lock — it is the only
// ring mutation that is not purely local to the producer's scratch
// region.
func (r *SampleRing) CommitWrite(n uint64) {
	r.writePos.Add(n)
}

// Write copies and publishes n samples from src in one step (prepare +
// commit). Used on the slow path, where the caller already holds the
// device lock.
func (r *SampleRing) Write(src []byte, n uint64) {
	if n == 0 {
		return
	}
	if n > r.CanWrite() {
		panic(fmt.Sprintf("ring: write %d exceeds can_write %d", n, r.CanWrite()))
	}
	writePos := r.writePos.Load()
	r.copyIn(writePos, src, n)
	r.writePos.Add(n)
}

// Read copies and consumes n samples into dst. Called only from the
// device callback, already under the device lock.
func (r *SampleRing) Read(dst []byte, n uint64) {
	if n == 0 {
		return
	}
	if n > r.CanRead() {
		panic(fmt.Sprintf("ring: read %d exceeds can_read %d", n, r.CanRead()))
	}
	readPos := r.readPos.Load()
	r.copyOut(readPos, dst, n)
	r.readPos.Add(n)
}

// Skip drops the oldest n readable samples without copying them out. Used
// by the producer, under the device lock, to implement the overflow
// policy.
func (r *SampleRing) Skip(n uint64) {
	if n == 0 {
		return
	}
	if n > r.CanRead() {
		panic(fmt.Sprintf("ring: skip %d exceeds can_read %d", n, r.CanRead()))
	}
	r.readPos.Add(n)
}

// copyIn writes n samples from src starting at ring sample-index pos,
// handling wrap-around with up to two copies.
func (r *SampleRing) copyIn(pos uint64, src []byte, n uint64) {
	start := (pos % r.capacity) * uint64(r.sampleSize)
	nBytes := n * uint64(r.sampleSize)
	total := uint64(len(r.buf))

	if start+nBytes <= total {
		copy(r.buf[start:start+nBytes], src[:nBytes])
		return
	}
	firstChunk := total - start
	copy(r.buf[start:], src[:firstChunk])
	copy(r.buf[:nBytes-firstChunk], src[firstChunk:nBytes])
}

// copyOut reads n samples starting at ring sample-index pos into dst,
// handling wrap-around with up to two copies.
func (r *SampleRing) copyOut(pos uint64, dst []byte, n uint64) {
	start := (pos % r.capacity) * uint64(r.sampleSize)
	nBytes := n * uint64(r.sampleSize)
	total := uint64(len(r.buf))

	if start+nBytes <= total {
		copy(dst[:nBytes], r.buf[start:start+nBytes])
		return
	}
	firstChunk := total - start
	copy(dst[:firstChunk], r.buf[start:])
	copy(dst[firstChunk:nBytes], r.buf[:nBytes-firstChunk])
}

// ToBytes converts a sample count to a byte count for this ring's sample
// width.
func (r *SampleRing) ToBytes(samples uint64) uint64 {
	return samples * uint64(r.sampleSize)
}

// ToSamples converts a byte count to a sample count for this ring's
// sample width. The byte count must be a multiple of SampleSize(); any
// remainder is truncated.
func (r *SampleRing) ToSamples(bytes uint64) uint64 {
	return bytes / uint64(r.sampleSize)
}
