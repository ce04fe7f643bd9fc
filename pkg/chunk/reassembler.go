package chunk

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Receives events from a Reassembler, e.g. for metrics.
type ReassemblerObserver interface {
	ChunkReceived()
	ChunkRejected()
	ChunkDuplicated()
	TrackReassembled()
	TrackEvicted()
	PendingTracks(n int)
}

type ReassemblerConfig struct {
	// Maximum number of incomplete tracks held at once.
	// When a chunk for a new track arrives and the limit is reached,
	// the track that started first is evicted. Zero means unbounded.
	MaxPendingTracks int

	// Incomplete tracks not updated within this duration are evicted.
	// Zero means tracks never expire.
	PendingTTL time.Duration

	// Sample rate used for chunks that declare none.
	// Zero means DefaultSampleRate.
	DefaultSampleRate uint32

	// Optional
	Observer ReassemblerObserver

	// Optional, defaults to time.Now
	Now func() time.Time
}

// An incomplete track, as reported by Reassembler.Pending.
type PendingTrack struct {
	TrackID  string
	Received int
	Total    int
	Age      time.Duration
}

type trackBuffer struct {
	totalChunks uint32
	sampleRate  uint32
	chunks      map[uint32][]int16
	firstSeen   time.Time
	lastUpdate  time.Time
}

// Collects chunks per track ID and emits each track once every chunk has arrived.
//
// Chunks of one track may arrive in any order and chunks of different tracks
// may interleave freely. A track is only ever emitted when every index in
// [0, TotalChunks) is present, and then exactly once.
//
// Reassembler is safe for concurrent use.
type Reassembler struct {
	logger *slog.Logger
	config ReassemblerConfig

	mu      sync.Mutex
	buffers map[string]*trackBuffer
}

// Create a new Reassembler.
// If no logger is given, slog.Default() is used.
func NewReassembler(config ReassemblerConfig, logger *slog.Logger) *Reassembler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.DefaultSampleRate == 0 {
		config.DefaultSampleRate = DefaultSampleRate
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Reassembler{
		logger: logger.With(
			"reassembler uuid", uuid.New(),
		),
		config:  config,
		buffers: make(map[string]*trackBuffer),
	}
}

// Add a chunk to its track.
//
// If the chunk completes the track, the reassembled track is returned and the
// buffer for it is released. Otherwise the returned track is nil.
//
// A malformed chunk (index out of range, or a total that disagrees with earlier
// chunks of the same track) is rejected with ErrMalformedChunk and leaves the
// buffered state untouched. If a chunk index arrives twice, the later samples replace the earlier.
func (r *Reassembler) Ingest(c AudioChunk) (*ReassembledTrack, error) {
	r.observe(func(o ReassemblerObserver) { o.ChunkReceived() })

	sampleRate := c.SampleRate
	if sampleRate == 0 {
		sampleRate = r.config.DefaultSampleRate
	}

	if c.TotalChunks <= 1 {
		if c.ChunkIndex != 0 {
			return nil, r.reject(c, "chunk index outside of single chunk track")
		}
		r.logger.Debug(
			"single chunk track, no buffering",
			"trackID", c.TrackID,
			"numSamples", len(c.Samples),
		)
		r.observe(func(o ReassemblerObserver) { o.TrackReassembled() })
		return &ReassembledTrack{
			TrackID:    c.TrackID,
			SampleRate: sampleRate,
			Samples:    c.Samples,
		}, nil
	}

	if c.ChunkIndex >= c.TotalChunks {
		return nil, r.reject(c, "chunk index not less than total chunks")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.config.Now()
	r.evictExpiredLocked(now)

	buf, ok := r.buffers[c.TrackID]
	if ok && buf.totalChunks != c.TotalChunks {
		return nil, r.reject(c, fmt.Sprintf("total chunks disagrees with buffered track (%d)", buf.totalChunks))
	}
	if !ok {
		if r.config.MaxPendingTracks > 0 && len(r.buffers) >= r.config.MaxPendingTracks {
			r.evictOldestLocked()
		}
		buf = &trackBuffer{
			totalChunks: c.TotalChunks,
			sampleRate:  sampleRate,
			chunks:      make(map[uint32][]int16, c.TotalChunks),
			firstSeen:   now,
		}
		r.buffers[c.TrackID] = buf
	}

	if _, duplicate := buf.chunks[c.ChunkIndex]; duplicate {
		r.logger.Debug(
			"duplicate chunk index, replacing earlier samples",
			"trackID", c.TrackID,
			"chunkIndex", c.ChunkIndex,
		)
		r.observe(func(o ReassemblerObserver) { o.ChunkDuplicated() })
	}
	buf.chunks[c.ChunkIndex] = c.Samples
	buf.lastUpdate = now
	if c.ChunkIndex == 0 {
		// The track plays at the rate declared by its first chunk
		buf.sampleRate = sampleRate
	}

	r.logger.Debug(
		"buffered chunk",
		"trackID", c.TrackID,
		"chunkIndex", c.ChunkIndex,
		"received", len(buf.chunks),
		"totalChunks", buf.totalChunks,
	)

	track := r.assembleLocked(c.TrackID, buf)
	r.observe(func(o ReassemblerObserver) { o.PendingTracks(len(r.buffers)) })
	return track, nil
}

// Concatenate the chunks of buf if every index is present, releasing the buffer.
// Returns nil while any index is missing.
func (r *Reassembler) assembleLocked(trackID string, buf *trackBuffer) *ReassembledTrack {
	if len(buf.chunks) < int(buf.totalChunks) {
		return nil
	}

	totalLength := 0
	for i := range buf.totalChunks {
		samples, ok := buf.chunks[i]
		if !ok {
			return nil
		}
		totalLength += len(samples)
	}

	combined := make([]int16, 0, totalLength)
	for i := range buf.totalChunks {
		combined = append(combined, buf.chunks[i]...)
	}
	delete(r.buffers, trackID)

	r.logger.Debug(
		"track reassembled",
		"trackID", trackID,
		"totalChunks", buf.totalChunks,
		"numSamples", totalLength,
	)
	r.observe(func(o ReassemblerObserver) { o.TrackReassembled() })

	return &ReassembledTrack{
		TrackID:    trackID,
		SampleRate: buf.sampleRate,
		Samples:    combined,
	}
}

func (r *Reassembler) reject(c AudioChunk, reason string) error {
	r.logger.Warn(
		"rejecting malformed chunk",
		"trackID", c.TrackID,
		"chunkIndex", c.ChunkIndex,
		"totalChunks", c.TotalChunks,
		"reason", reason,
	)
	r.observe(func(o ReassemblerObserver) { o.ChunkRejected() })
	return fmt.Errorf("%w: track %q chunk %d of %d: %s", ErrMalformedChunk, c.TrackID, c.ChunkIndex, c.TotalChunks, reason)
}

// Drop the buffered chunks of a track. Returns false if no such track is pending.
func (r *Reassembler) Abort(trackID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.buffers[trackID]; !ok {
		return false
	}
	delete(r.buffers, trackID)
	r.logger.Debug("aborted track", "trackID", trackID)
	r.observe(func(o ReassemblerObserver) { o.PendingTracks(len(r.buffers)) })
	return true
}

// Drop every pending track, returning how many were dropped.
func (r *Reassembler) Reset() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.buffers)
	clear(r.buffers)
	if n > 0 {
		r.logger.Debug("reset reassembler", "droppedTracks", n)
	}
	r.observe(func(o ReassemblerObserver) { o.PendingTracks(0) })
	return n
}

// Evict tracks that have not been updated within the PendingTTL.
// Returns the number of evicted tracks.
func (r *Reassembler) EvictExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.evictExpiredLocked(r.config.Now())
	r.observe(func(o ReassemblerObserver) { o.PendingTracks(len(r.buffers)) })
	return n
}

func (r *Reassembler) evictExpiredLocked(now time.Time) int {
	if r.config.PendingTTL <= 0 {
		return 0
	}

	evicted := 0
	for trackID, buf := range r.buffers {
		if now.Sub(buf.lastUpdate) >= r.config.PendingTTL {
			r.evictLocked(trackID, buf, "expired")
			evicted += 1
		}
	}
	return evicted
}

func (r *Reassembler) evictOldestLocked() {
	var oldestID string
	var oldest *trackBuffer
	for trackID, buf := range r.buffers {
		if oldest == nil || buf.firstSeen.Before(oldest.firstSeen) {
			oldestID, oldest = trackID, buf
		}
	}
	if oldest != nil {
		r.evictLocked(oldestID, oldest, "too many pending tracks")
	}
}

func (r *Reassembler) evictLocked(trackID string, buf *trackBuffer, reason string) {
	delete(r.buffers, trackID)
	r.logger.Warn(
		"evicting incomplete track",
		"trackID", trackID,
		"received", len(buf.chunks),
		"totalChunks", buf.totalChunks,
		"reason", reason,
	)
	r.observe(func(o ReassemblerObserver) { o.TrackEvicted() })
}

// Snapshot of the incomplete tracks, sorted by track ID.
func (r *Reassembler) Pending() []PendingTrack {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.config.Now()
	pending := make([]PendingTrack, 0, len(r.buffers))
	for trackID, buf := range r.buffers {
		pending = append(pending, PendingTrack{
			TrackID:  trackID,
			Received: len(buf.chunks),
			Total:    int(buf.totalChunks),
			Age:      now.Sub(buf.firstSeen),
		})
	}
	slices.SortFunc(pending, func(a, b PendingTrack) int {
		return strings.Compare(a.TrackID, b.TrackID)
	})
	return pending
}

// Number of incomplete tracks.
func (r *Reassembler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffers)
}

func (r *Reassembler) observe(f func(ReassemblerObserver)) {
	if r.config.Observer != nil {
		f(r.config.Observer)
	}
}
