// Binary wire format for the messages exchanged between the controlling
// context and the virtual microphone.
//
// PCM chunk layout:
//
//	[type:1][trackIdLen:1][trackId:N][chunkIndex:4][totalChunks:4][sampleRate:4][sampleCount:4][samples:2*sampleCount]
//
// State layout:
//
//	[type:1][enabled:1]
//
// Integer header fields are big-endian, samples are little-endian int16.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	PacketTypePCMChunk     = 0x01
	PacketTypeVirtualState = 0x02

	TypePCMChunk     = "PCM_CHUNK"
	TypeVirtualState = "VIRTUAL_MIC_STATE"

	MaxTrackIDLength = 255

	// type + trackIdLen + chunkIndex + totalChunks + sampleRate + sampleCount
	chunkHeaderSize = 1 + 1 + 4 + 4 + 4 + 4
	stateSize       = 1 + 1
)

var (
	ErrShortMessage       = errors.New("message too short")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrTrackIDTooLong     = errors.New("track id too long")
	ErrLengthMismatch     = errors.New("message length does not match header")
)

// A message carried over the transport channel.
// Either an *AudioChunkMessage or a *StateMessage.
type Message interface {
	Type() string
}

// One chunk of a track of mono int16 PCM.
//
// TotalChunks of zero means the sender did not split the track,
// and the chunk is a complete track on its own.
type AudioChunkMessage struct {
	TrackID     string
	ChunkIndex  uint32
	TotalChunks uint32
	SampleRate  uint32
	Samples     []int16
}

func (m *AudioChunkMessage) Type() string {
	return TypePCMChunk
}

// Out-of-band enable / disable signal for the virtual microphone.
type StateMessage struct {
	Enabled bool
}

func (m *StateMessage) Type() string {
	return TypeVirtualState
}

// Encode a message to its binary representation.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *AudioChunkMessage:
		return encodeAudioChunk(m)
	case *StateMessage:
		data := make([]byte, stateSize)
		data[0] = PacketTypeVirtualState
		if m.Enabled {
			data[1] = 1
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessageType, msg)
	}
}

func encodeAudioChunk(m *AudioChunkMessage) ([]byte, error) {
	if len(m.TrackID) > MaxTrackIDLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrackIDTooLong, len(m.TrackID))
	}

	idLen := len(m.TrackID)
	data := make([]byte, chunkHeaderSize+idLen+2*len(m.Samples))
	data[0] = PacketTypePCMChunk
	data[1] = uint8(idLen)
	copy(data[2:2+idLen], m.TrackID)

	offset := 2 + idLen
	binary.BigEndian.PutUint32(data[offset:], m.ChunkIndex)
	binary.BigEndian.PutUint32(data[offset+4:], m.TotalChunks)
	binary.BigEndian.PutUint32(data[offset+8:], m.SampleRate)
	binary.BigEndian.PutUint32(data[offset+12:], uint32(len(m.Samples)))

	offset += 16
	for i, s := range m.Samples {
		binary.LittleEndian.PutUint16(data[offset+2*i:], uint16(s))
	}
	return data, nil
}

// Decode a binary message.
func Decode(data []byte) (Message, error) {
	if len(data) < 1 {
		return nil, ErrShortMessage
	}

	switch data[0] {
	case PacketTypePCMChunk:
		return decodeAudioChunk(data)
	case PacketTypeVirtualState:
		if len(data) != stateSize {
			return nil, fmt.Errorf("%w: state message of %d bytes", ErrLengthMismatch, len(data))
		}
		return &StateMessage{Enabled: data[1] != 0}, nil
	default:
		return nil, fmt.Errorf("%w: %#x", ErrUnknownMessageType, data[0])
	}
}

func decodeAudioChunk(data []byte) (*AudioChunkMessage, error) {
	if len(data) < chunkHeaderSize {
		return nil, fmt.Errorf("%w: expected at least %d bytes, got %d", ErrShortMessage, chunkHeaderSize, len(data))
	}

	idLen := int(data[1])
	if len(data) < chunkHeaderSize+idLen {
		return nil, fmt.Errorf("%w: track id of %d bytes truncated", ErrShortMessage, idLen)
	}

	msg := &AudioChunkMessage{
		TrackID: string(data[2 : 2+idLen]),
	}
	offset := 2 + idLen
	msg.ChunkIndex = binary.BigEndian.Uint32(data[offset:])
	msg.TotalChunks = binary.BigEndian.Uint32(data[offset+4:])
	msg.SampleRate = binary.BigEndian.Uint32(data[offset+8:])
	sampleCount := int(binary.BigEndian.Uint32(data[offset+12:]))
	offset += 16

	if len(data)-offset != 2*sampleCount {
		return nil, fmt.Errorf("%w: header declares %d samples, payload holds %d bytes",
			ErrLengthMismatch, sampleCount, len(data)-offset)
	}

	msg.Samples = make([]int16, sampleCount)
	for i := range msg.Samples {
		msg.Samples[i] = int16(binary.LittleEndian.Uint16(data[offset+2*i:]))
	}
	return msg, nil
}
