package peer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/networking"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/encoderdecoder"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/frame"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// One end of a connection between a controller and the virtual microphone.
//
// A Peer is created by the PeerFactory, either on the offering side (the
// controller, which sends protocol messages through Sender) or on the
// answering side (the virtual microphone, which receives them).
type Peer struct {
	logger *slog.Logger

	uuid uuid.UUID

	// This context handles signalling to handlers that the peer is shutting down
	// Methods may listen for closing (calling the ctxCancelFunction), with <-ctx.Done()
	ctx           context.Context
	ctxCancelFunc context.CancelFunc

	shutdownOnce sync.Once

	// --------------------------------------------------------------------------------
	// Connection related fields

	// Handles the connection between this client and the remote peer
	connection *webrtc.PeerConnection

	// Sends protocol messages to the remote peer. Only defined on the offering side.
	sender *networking.Sender

	heartbeatPeriod time.Duration

	// Most recent one-way latency measured on the heartbeat channel, in nanoseconds
	latency atomic.Int64
}

func newPeer(connection *webrtc.PeerConnection, heartbeatPeriod time.Duration, logger *slog.Logger) *Peer {
	ctx, cancelFunc := context.WithCancel(context.Background())
	peer := &Peer{
		uuid:            uuid.New(),
		connection:      connection,
		ctx:             ctx,
		ctxCancelFunc:   cancelFunc,
		heartbeatPeriod: heartbeatPeriod,
	}
	peer.logger = logger.With(
		"peer uuid", peer.uuid,
	)

	connection.OnConnectionStateChange(peer.connectionStateChangeHandler)
	return peer
}

// --------------------------------------------------------------------------------
// PUBLIC METHODS

// Get the context of this peer
// May be used to determine if the peer is shutting down by listening for <-ctx.Done()
func (peer *Peer) GetContext() context.Context {
	return peer.ctx
}

func (peer *Peer) UUID() uuid.UUID {
	return peer.uuid
}

func (peer *Peer) Connection() *webrtc.PeerConnection {
	return peer.connection
}

// The Sender for protocol messages, or nil on an answering peer.
func (peer *Peer) Sender() *networking.Sender {
	return peer.sender
}

// The most recent latency measured by heartbeat, or zero before the first heartbeat arrives.
func (peer *Peer) Latency() time.Duration {
	return time.Duration(peer.latency.Load())
}

// Close the peer and its connection. Safe to call more than once.
func (peer *Peer) Close() {
	peer.shutdownOnce.Do(func() {
		peer.logger.Debug("closing peer")
		peer.ctxCancelFunc()
		peer.connection.Close()
	})
}

// Decode packets from a remote audio track into a stream of frames.
//
// The stream closes when the track ends or the peer closes.
func (peer *Peer) ReceiveAudio(track *webrtc.TrackRemote) (<-chan frame.PCMFrame, error) {
	decoder, err := encoderdecoder.NewEncoderDecoderForCodec(track.Codec().RTPCodecCapability)
	if err != nil {
		return nil, err
	}

	stream := make(chan frame.PCMFrame, 16)
	go func() {
		defer close(stream)
		for {
			packet, _, err := track.ReadRTP()
			if err != nil {
				peer.logger.Debug("remote track ended", "trackID", track.ID(), "err", err)
				return
			}
			pcmFrame, err := decoder.Decode(frame.EncodedFrame(packet.Payload))
			if err != nil {
				peer.logger.Error("error decoding remote packet", "err", err)
				continue
			}
			select {
			case stream <- pcmFrame:
			case <-peer.ctx.Done():
				return
			}
		}
	}()
	return stream, nil
}

// --------------------------------------------------------------------------------
// CONNECTION HANDLERS

func (peer *Peer) connectionStateChangeHandler(pcs webrtc.PeerConnectionState) {
	peer.logger.Debug("peer connection state change", "new state", pcs.String())
	switch pcs {
	case webrtc.PeerConnectionStateConnected:
		peer.logger.Info("peer connection connected")
	case webrtc.PeerConnectionStateDisconnected:
		// ICE may still recover from a disconnect, so the peer is kept
		peer.logger.Info("peer connection disconnected")
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		peer.logger.Info("peer connection ended", "state", pcs.String())
		peer.Close()
	}
}
