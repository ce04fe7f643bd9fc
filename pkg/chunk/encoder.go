package chunk

import (
	"iter"
	"log/slog"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/pcm"
	"github.com/google/uuid"
)

// Split samples into ceil(len(samples) / maxChunkSamples) chunks sharing trackID.
//
// The chunks are produced lazily, in index order. Every chunk holds exactly
// maxChunkSamples samples except the last, which may be shorter.
// An empty sample slice produces no chunks.
//
// The chunk samples alias the given slice.
func Split(trackID string, sampleRate uint32, samples []int16, maxChunkSamples int) iter.Seq[AudioChunk] {
	if maxChunkSamples <= 0 {
		maxChunkSamples = DefaultChunkSamples
	}
	totalChunks := (len(samples) + maxChunkSamples - 1) / maxChunkSamples

	return func(yield func(AudioChunk) bool) {
		for i := range totalChunks {
			start := i * maxChunkSamples
			end := min(start+maxChunkSamples, len(samples))
			c := AudioChunk{
				TrackID:     trackID,
				ChunkIndex:  uint32(i),
				TotalChunks: uint32(totalChunks),
				SampleRate:  sampleRate,
				Samples:     samples[start:end:end],
			}
			if !yield(c) {
				return
			}
		}
	}
}

// The sending side of the transport.
// Splits tracks into chunks, generating track IDs as needed.
type Encoder struct {
	logger          *slog.Logger
	maxChunkSamples int
}

// Create a new Encoder producing chunks of at most maxChunkSamples samples.
// A non-positive maxChunkSamples falls back to DefaultChunkSamples.
//
// If no logger is given, slog.Default() is used.
func NewEncoder(maxChunkSamples int, logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = slog.Default()
	}
	if maxChunkSamples <= 0 {
		logger.Warn(
			"non-positive chunk size, using default",
			"maxChunkSamples", maxChunkSamples,
			"default", DefaultChunkSamples,
		)
		maxChunkSamples = DefaultChunkSamples
	}

	return &Encoder{
		logger:          logger,
		maxChunkSamples: maxChunkSamples,
	}
}

func (e *Encoder) MaxChunkSamples() int {
	return e.maxChunkSamples
}

// Split a track of int16 samples.
// If trackID is empty a new one is generated. The used track ID is returned alongside the chunks.
func (e *Encoder) Encode(trackID string, sampleRate uint32, samples []int16) (string, iter.Seq[AudioChunk]) {
	if trackID == "" {
		trackID = uuid.NewString()
	}
	e.logger.Debug(
		"encoding track",
		"trackID", trackID,
		"sampleRate", sampleRate,
		"numSamples", len(samples),
		"maxChunkSamples", e.maxChunkSamples,
	)
	return trackID, Split(trackID, sampleRate, samples, e.maxChunkSamples)
}

// Split a track of unit-scaled float samples, converting them to int16 first.
// Out of range samples are clamped.
func (e *Encoder) EncodeFrame(trackID string, sampleRate uint32, samples frame.PCMFrame) (string, iter.Seq[AudioChunk]) {
	minVal, maxVal := pcm.MinMax(samples)
	if minVal < -1.0 || maxVal > 1.0 {
		e.logger.Warn(
			"samples outside [-1, 1] will be clamped",
			"min", minVal,
			"max", maxVal,
		)
	}
	return e.Encode(trackID, sampleRate, pcm.FromFrame(samples))
}
