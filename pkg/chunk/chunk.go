// Splitting of PCM tracks into bounded chunks for transport, and
// reassembly of chunks that arrive in any order.
package chunk

import (
	"errors"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/protocol"
)

const (
	// Policy default for the number of samples in a chunk.
	DefaultChunkSamples = 16000

	// Sample rate assumed for chunks that do not declare one.
	DefaultSampleRate = 44100
)

var (
	ErrMalformedChunk = errors.New("malformed chunk")
)

// A bounded fragment of a track, tagged for reassembly.
//
// ChunkIndex is 0-based and dense over [0, TotalChunks).
// A TotalChunks of 0 means the track was never split.
type AudioChunk struct {
	TrackID     string
	ChunkIndex  uint32
	TotalChunks uint32
	SampleRate  uint32
	Samples     []int16
}

// The concatenation, in index order, of every chunk of one track.
type ReassembledTrack struct {
	TrackID    string
	SampleRate uint32
	Samples    []int16
}

func FromMessage(msg *protocol.AudioChunkMessage) AudioChunk {
	return AudioChunk{
		TrackID:     msg.TrackID,
		ChunkIndex:  msg.ChunkIndex,
		TotalChunks: msg.TotalChunks,
		SampleRate:  msg.SampleRate,
		Samples:     msg.Samples,
	}
}

func (c AudioChunk) Message() *protocol.AudioChunkMessage {
	return &protocol.AudioChunkMessage{
		TrackID:     c.TrackID,
		ChunkIndex:  c.ChunkIndex,
		TotalChunks: c.TotalChunks,
		SampleRate:  c.SampleRate,
		Samples:     c.Samples,
	}
}
