package chunk

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/pcm"
)

type countingObserver struct {
	mu          sync.Mutex
	received    int
	rejected    int
	duplicated  int
	reassembled int
	evicted     int
	pending     int
}

func (o *countingObserver) ChunkReceived()    { o.mu.Lock(); o.received++; o.mu.Unlock() }
func (o *countingObserver) ChunkRejected()    { o.mu.Lock(); o.rejected++; o.mu.Unlock() }
func (o *countingObserver) ChunkDuplicated()  { o.mu.Lock(); o.duplicated++; o.mu.Unlock() }
func (o *countingObserver) TrackReassembled() { o.mu.Lock(); o.reassembled++; o.mu.Unlock() }
func (o *countingObserver) TrackEvicted()     { o.mu.Lock(); o.evicted++; o.mu.Unlock() }
func (o *countingObserver) PendingTracks(n int) {
	o.mu.Lock()
	o.pending = n
	o.mu.Unlock()
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func filled(n int, value int16) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = value
	}
	return samples
}

func ramp(n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(i%65536 - 32768)
	}
	return samples
}

func TestReassembleOutOfOrder(t *testing.T) {
	r := NewReassembler(ReassemblerConfig{}, nil)

	sizes := []int{16000, 16000, 5000}
	arrival := []uint32{2, 0, 1}
	for i, index := range arrival {
		track, err := r.Ingest(AudioChunk{
			TrackID:     "t1",
			ChunkIndex:  index,
			TotalChunks: 3,
			SampleRate:  44100,
			Samples:     filled(sizes[index], 1000),
		})
		if err != nil {
			t.Fatalf("Ingest failed: %v", err)
		}
		if i < len(arrival)-1 {
			if track != nil {
				t.Fatalf("Expected no track after %d chunks, got one", i+1)
			}
			continue
		}

		if track == nil {
			t.Fatal("Expected track after final chunk, got nil")
		}
		if len(track.Samples) != 37000 {
			t.Errorf("Expected 37000 samples, got %d", len(track.Samples))
		}
		if track.SampleRate != 44100 {
			t.Errorf("Expected sample rate 44100, got %d", track.SampleRate)
		}
		for j, s := range track.Samples {
			if s != 1000 {
				t.Fatalf("Sample %d: expected 1000, got %d", j, s)
			}
		}
		expected := float32(1000) / 32768
		if got := pcm.ToFloat(track.Samples[0]); got != expected {
			t.Errorf("Expected float %v, got %v", expected, got)
		}
	}

	if r.Len() != 0 {
		t.Errorf("Expected no pending tracks, got %d", r.Len())
	}
}

func TestReassembleAnyPermutation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		numSamples      int
		maxChunkSamples int
	}{
		{numSamples: 1, maxChunkSamples: 4},
		{numSamples: 10, maxChunkSamples: 3},
		{numSamples: 37000, maxChunkSamples: 16000},
		{numSamples: 1024, maxChunkSamples: 64},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.numSamples, tt.maxChunkSamples), func(t *testing.T) {
			t.Parallel()
			rng := rand.New(rand.NewPCG(uint64(tt.numSamples), uint64(tt.maxChunkSamples)))
			original := ramp(tt.numSamples)

			for range 20 {
				chunks := slices.Collect(Split("track", 48000, original, tt.maxChunkSamples))
				rng.Shuffle(len(chunks), func(i, j int) { chunks[i], chunks[j] = chunks[j], chunks[i] })

				r := NewReassembler(ReassemblerConfig{}, nil)
				var emitted []*ReassembledTrack
				for _, c := range chunks {
					track, err := r.Ingest(c)
					if err != nil {
						t.Fatalf("Ingest failed: %v", err)
					}
					if track != nil {
						emitted = append(emitted, track)
					}
				}

				if len(emitted) != 1 {
					t.Fatalf("Expected exactly one emitted track, got %d", len(emitted))
				}
				if !slices.Equal(emitted[0].Samples, original) {
					t.Fatal("Reassembled samples differ from original")
				}
			}
		})
	}
}

func TestReassembleInterleavedTracks(t *testing.T) {
	r := NewReassembler(ReassemblerConfig{}, nil)

	a := ramp(50)
	b := filled(35, -7)
	chunksA := slices.Collect(Split("a", 44100, a, 10))
	chunksB := slices.Collect(Split("b", 22050, b, 10))

	var interleaved []AudioChunk
	for i := range max(len(chunksA), len(chunksB)) {
		if i < len(chunksB) {
			interleaved = append(interleaved, chunksB[len(chunksB)-1-i])
		}
		if i < len(chunksA) {
			interleaved = append(interleaved, chunksA[i])
		}
	}

	tracks := make(map[string]*ReassembledTrack)
	for _, c := range interleaved {
		track, err := r.Ingest(c)
		if err != nil {
			t.Fatalf("Ingest failed: %v", err)
		}
		if track != nil {
			if _, seen := tracks[track.TrackID]; seen {
				t.Fatalf("Track %s emitted twice", track.TrackID)
			}
			tracks[track.TrackID] = track
		}
	}

	if !slices.Equal(tracks["a"].Samples, a) {
		t.Error("Track a differs from original")
	}
	if !slices.Equal(tracks["b"].Samples, b) {
		t.Error("Track b differs from original")
	}
	if tracks["b"].SampleRate != 22050 {
		t.Errorf("Expected track b at 22050 Hz, got %d", tracks["b"].SampleRate)
	}
}

func TestReassembleIncompleteNeverEmits(t *testing.T) {
	r := NewReassembler(ReassemblerConfig{}, nil)

	for _, index := range []uint32{0, 1, 3} {
		track, err := r.Ingest(AudioChunk{TrackID: "gap", ChunkIndex: index, TotalChunks: 4, Samples: []int16{1}})
		if err != nil {
			t.Fatalf("Ingest failed: %v", err)
		}
		if track != nil {
			t.Fatalf("Expected no track with chunk 2 missing, got one after chunk %d", index)
		}
	}

	pending := r.Pending()
	if len(pending) != 1 || pending[0].Received != 3 || pending[0].Total != 4 {
		t.Errorf("Unexpected pending state: %+v", pending)
	}
}

func TestReassembleSingleChunk(t *testing.T) {
	tests := []struct {
		name        string
		totalChunks uint32
	}{
		{name: "unsplit", totalChunks: 0},
		{name: "one chunk", totalChunks: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReassembler(ReassemblerConfig{}, nil)
			track, err := r.Ingest(AudioChunk{TrackID: "s", TotalChunks: tt.totalChunks, Samples: []int16{5, 6, 7}})
			if err != nil {
				t.Fatalf("Ingest failed: %v", err)
			}
			if track == nil {
				t.Fatal("Expected track, got nil")
			}
			if !slices.Equal(track.Samples, []int16{5, 6, 7}) {
				t.Errorf("Expected [5 6 7], got %v", track.Samples)
			}
			if track.SampleRate != DefaultSampleRate {
				t.Errorf("Expected default sample rate %d, got %d", DefaultSampleRate, track.SampleRate)
			}
			if r.Len() != 0 {
				t.Errorf("Expected nothing buffered, got %d", r.Len())
			}
		})
	}
}

func TestReassembleMalformed(t *testing.T) {
	observer := &countingObserver{}
	r := NewReassembler(ReassemblerConfig{Observer: observer}, nil)

	if _, err := r.Ingest(AudioChunk{TrackID: "m", ChunkIndex: 0, TotalChunks: 3, Samples: []int16{1}}); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	tests := []struct {
		name  string
		chunk AudioChunk
	}{
		{name: "index equals total", chunk: AudioChunk{TrackID: "m", ChunkIndex: 3, TotalChunks: 3}},
		{name: "index beyond total", chunk: AudioChunk{TrackID: "x", ChunkIndex: 9, TotalChunks: 2}},
		{name: "total disagrees", chunk: AudioChunk{TrackID: "m", ChunkIndex: 1, TotalChunks: 4}},
		{name: "single chunk nonzero index", chunk: AudioChunk{TrackID: "y", ChunkIndex: 1, TotalChunks: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			track, err := r.Ingest(tt.chunk)
			if !errors.Is(err, ErrMalformedChunk) {
				t.Errorf("Expected ErrMalformedChunk, got %v", err)
			}
			if track != nil {
				t.Error("Expected no track for malformed chunk")
			}
		})
	}

	pending := r.Pending()
	if len(pending) != 1 || pending[0].TrackID != "m" || pending[0].Received != 1 {
		t.Errorf("Malformed chunks changed buffered state: %+v", pending)
	}
	if observer.rejected != len(tests) {
		t.Errorf("Expected %d rejections, got %d", len(tests), observer.rejected)
	}
}

func TestReassembleDuplicateLastWriteWins(t *testing.T) {
	observer := &countingObserver{}
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := NewReassembler(ReassemblerConfig{Observer: observer}, logger)

	chunks := []AudioChunk{
		{TrackID: "d", ChunkIndex: 0, TotalChunks: 2, Samples: []int16{1, 1}},
		{TrackID: "d", ChunkIndex: 0, TotalChunks: 2, Samples: []int16{2, 2}},
		{TrackID: "d", ChunkIndex: 1, TotalChunks: 2, Samples: []int16{3}},
	}

	var track *ReassembledTrack
	for _, c := range chunks {
		var err error
		track, err = r.Ingest(c)
		if err != nil {
			t.Fatalf("Ingest failed: %v", err)
		}
	}

	if track == nil {
		t.Fatal("Expected track, got nil")
	}
	if !slices.Equal(track.Samples, []int16{2, 2, 3}) {
		t.Errorf("Expected [2 2 3], got %v", track.Samples)
	}
	if observer.duplicated != 1 {
		t.Errorf("Expected 1 duplicate, got %d", observer.duplicated)
	}
	if observer.reassembled != 1 {
		t.Errorf("Expected 1 reassembled track, got %d", observer.reassembled)
	}

	// Duplicates are logged at debug level only
	var levels []string
	for line := range bytes.Lines(logs.Bytes()) {
		var record struct {
			Level string `json:"level"`
			Msg   string `json:"msg"`
		}
		if err := json.Unmarshal(line, &record); err != nil {
			t.Fatalf("Unreadable log line %q: %v", line, err)
		}
		if strings.HasPrefix(record.Msg, "duplicate chunk index") {
			levels = append(levels, record.Level)
		}
	}
	if !slices.Equal(levels, []string{"DEBUG"}) {
		t.Errorf("Expected one debug log for the duplicate, got %v", levels)
	}
}

func TestReassembleSampleRateFromFirstChunk(t *testing.T) {
	r := NewReassembler(ReassemblerConfig{}, nil)

	if _, err := r.Ingest(AudioChunk{TrackID: "r", ChunkIndex: 1, TotalChunks: 2, SampleRate: 8000, Samples: []int16{2}}); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	track, err := r.Ingest(AudioChunk{TrackID: "r", ChunkIndex: 0, TotalChunks: 2, SampleRate: 16000, Samples: []int16{1}})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if track == nil {
		t.Fatal("Expected track, got nil")
	}
	if track.SampleRate != 16000 {
		t.Errorf("Expected sample rate of chunk 0 (16000), got %d", track.SampleRate)
	}
}

func TestReassemblerEvictOldest(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	observer := &countingObserver{}
	r := NewReassembler(ReassemblerConfig{MaxPendingTracks: 2, Observer: observer, Now: clock.Now}, nil)

	for _, trackID := range []string{"first", "second", "third"} {
		if _, err := r.Ingest(AudioChunk{TrackID: trackID, TotalChunks: 2, Samples: []int16{1}}); err != nil {
			t.Fatalf("Ingest failed: %v", err)
		}
		clock.Advance(time.Second)
	}

	pending := r.Pending()
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.TrackID)
	}
	if !slices.Equal(ids, []string{"second", "third"}) {
		t.Errorf("Expected [second third] pending, got %v", ids)
	}
	if observer.evicted != 1 {
		t.Errorf("Expected 1 eviction, got %d", observer.evicted)
	}
	if observer.pending != 2 {
		t.Errorf("Expected pending gauge 2, got %d", observer.pending)
	}
}

func TestReassemblerEvictExpired(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	r := NewReassembler(ReassemblerConfig{PendingTTL: time.Minute, Now: clock.Now}, nil)

	if _, err := r.Ingest(AudioChunk{TrackID: "stale", TotalChunks: 2, Samples: []int16{1}}); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	clock.Advance(30 * time.Second)
	if _, err := r.Ingest(AudioChunk{TrackID: "fresh", TotalChunks: 2, Samples: []int16{1}}); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if n := r.EvictExpired(); n != 0 {
		t.Errorf("Expected no evictions before ttl, got %d", n)
	}

	clock.Advance(45 * time.Second)
	if n := r.EvictExpired(); n != 1 {
		t.Errorf("Expected 1 eviction, got %d", n)
	}
	pending := r.Pending()
	if len(pending) != 1 || pending[0].TrackID != "fresh" {
		t.Errorf("Expected only fresh pending, got %+v", pending)
	}
	if pending[0].Age != 45*time.Second {
		t.Errorf("Expected age 45s, got %v", pending[0].Age)
	}

	// A late chunk for an evicted track starts a new buffer rather than completing the old one
	track, err := r.Ingest(AudioChunk{TrackID: "stale", ChunkIndex: 1, TotalChunks: 2, Samples: []int16{2}})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if track != nil {
		t.Error("Expected no track for chunk of evicted track")
	}
}

func TestReassemblerAbortAndReset(t *testing.T) {
	r := NewReassembler(ReassemblerConfig{}, nil)

	for _, trackID := range []string{"a", "b", "c"} {
		if _, err := r.Ingest(AudioChunk{TrackID: trackID, TotalChunks: 2, Samples: []int16{1}}); err != nil {
			t.Fatalf("Ingest failed: %v", err)
		}
	}

	if !r.Abort("b") {
		t.Error("Expected abort of pending track to succeed")
	}
	if r.Abort("b") {
		t.Error("Expected second abort to report no track")
	}
	if r.Len() != 2 {
		t.Errorf("Expected 2 pending, got %d", r.Len())
	}
	if n := r.Reset(); n != 2 {
		t.Errorf("Expected reset to drop 2, got %d", n)
	}
	if r.Len() != 0 {
		t.Errorf("Expected 0 pending after reset, got %d", r.Len())
	}
}

func TestReassemblerConcurrentIngest(t *testing.T) {
	r := NewReassembler(ReassemblerConfig{}, nil)
	original := ramp(1000)

	var mu sync.Mutex
	emitted := make(map[string]int)

	var wg sync.WaitGroup
	for i := range 8 {
		trackID := fmt.Sprintf("track-%d", i)
		for c := range Split(trackID, 44100, original, 100) {
			wg.Go(func() {
				track, err := r.Ingest(c)
				if err != nil {
					t.Errorf("Ingest failed: %v", err)
					return
				}
				if track != nil {
					mu.Lock()
					emitted[track.TrackID]++
					mu.Unlock()
					if !slices.Equal(track.Samples, original) {
						t.Errorf("Track %s differs from original", track.TrackID)
					}
				}
			})
		}
	}
	wg.Wait()

	if len(emitted) != 8 {
		t.Errorf("Expected 8 tracks, got %d", len(emitted))
	}
	for trackID, n := range emitted {
		if n != 1 {
			t.Errorf("Track %s emitted %d times", trackID, n)
		}
	}
}
