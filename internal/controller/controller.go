// The controlling context: the side that loads audio, splits it into chunks
// and drives the virtual microphone over the transport.
package controller

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/chunk"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/protocol"
	"github.com/google/uuid"
)

// Anything protocol messages can be sent through, e.g. a networking.Sender.
type MessageSender interface {
	Send(ctx context.Context, msg protocol.Message) error
}

type Controller struct {
	logger  *slog.Logger
	sender  MessageSender
	encoder *chunk.Encoder
}

// Create a new Controller sending through sender, in chunks of at most maxChunkSamples.
//
// If no logger is given, slog.Default() is used.
func New(sender MessageSender, maxChunkSamples int, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(
		"controller uuid", uuid.New(),
	)
	return &Controller{
		logger:  logger,
		sender:  sender,
		encoder: chunk.NewEncoder(maxChunkSamples, logger),
	}
}

// Enable or disable the virtual microphone.
func (c *Controller) SetEnabled(ctx context.Context, enabled bool) error {
	c.logger.Info("setting virtual microphone state", "enabled", enabled)
	return c.sender.Send(ctx, &protocol.StateMessage{Enabled: enabled})
}

// Send a track of int16 samples, returning its track ID and playback duration.
// Chunks are sent in index order; the transport may deliver them in any order.
func (c *Controller) PlayTrack(ctx context.Context, sampleRate uint32, samples []int16) (string, time.Duration, error) {
	trackID, chunks := c.encoder.Encode("", sampleRate, samples)
	return c.send(ctx, trackID, chunks, len(samples), sampleRate)
}

// Send a track of unit-scaled float samples, see PlayTrack. Out of range samples are clamped.
func (c *Controller) PlayFrame(ctx context.Context, sampleRate uint32, samples frame.PCMFrame) (string, time.Duration, error) {
	trackID, chunks := c.encoder.EncodeFrame("", sampleRate, samples)
	return c.send(ctx, trackID, chunks, len(samples), sampleRate)
}

func (c *Controller) send(ctx context.Context, trackID string, chunks iter.Seq[chunk.AudioChunk], numSamples int, sampleRate uint32) (string, time.Duration, error) {
	sent := 0
	for ch := range chunks {
		if err := c.sender.Send(ctx, ch.Message()); err != nil {
			return trackID, 0, fmt.Errorf("sending chunk %d of track %s: %w", ch.ChunkIndex, trackID, err)
		}
		sent++
	}

	duration := frame.SamplesDuration(numSamples, int(sampleRate))
	c.logger.Info(
		"track sent",
		"trackID", trackID,
		"chunks", sent,
		"samples", numSamples,
		"duration", duration,
	)
	return trackID, duration, nil
}

// Read an audio file (mixed down to mono, see ReadAudioFile) and send it as one track.
func (c *Controller) PlayFile(ctx context.Context, path string) (string, time.Duration, error) {
	track, err := ReadAudioFile(path)
	if err != nil {
		return "", 0, err
	}
	if track.SourceChannels > 1 {
		c.logger.Info("mixed audio file down to mono", "path", path, "channels", track.SourceChannels)
	}
	return c.PlayTrack(ctx, track.SampleRate, track.Samples)
}

// An adapter to use an ordinary function as a MessageSender,
// e.g. a Session's HandleMessage when both ends run in one process.
type SenderFunc func(ctx context.Context, msg protocol.Message) error

func (f SenderFunc) Send(ctx context.Context, msg protocol.Message) error {
	return f(ctx, msg)
}
