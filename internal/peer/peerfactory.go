package peer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/networking"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

type PeerFactory struct {
	logger *slog.Logger

	// Counts undecodable messages on answering peers. May be nil.
	receiverObserver networking.ReceiverObserver

	heartbeatPeriod time.Duration
}

// Create a new PeerFactory.
//
// receiverObserver is handed to the receivers of answering peers, and may be nil.
// If no logger is given, slog.Default() is used.
func NewPeerFactory(
	receiverObserver networking.ReceiverObserver,
	logger *slog.Logger,
) *PeerFactory {
	if logger == nil {
		logger = slog.Default()
	}

	factory := &PeerFactory{
		logger: logger.With(
			"peer factory uuid", uuid.New(),
		),
		receiverObserver: receiverObserver,
		heartbeatPeriod:  HEARTBEAT_PERIOD,
	}

	return factory
}

// Set the period between heartbeats of peers created afterwards.
func (factory *PeerFactory) SetHeartbeatPeriod(period time.Duration) {
	factory.heartbeatPeriod = period
}

// Create a new audio track to publish a stream to the remote peer.
//
// The caller should add the returned track to the PeerConnection using AddTrack
// before the session description is created, and the receiving peer's connection
// should have an OnTrack handler (see Peer.ReceiveAudio).
func (factory *PeerFactory) NewAudioTrack(codec webrtc.RTPCodecCapability) (*webrtc.TrackLocalStaticSample, error) {
	id := uuid.New()
	trackID := fmt.Sprintf("%s audio", id.String())
	streamID := fmt.Sprintf("%s audio stream", id.String())
	track, err := webrtc.NewTrackLocalStaticSample(
		codec,
		trackID,
		streamID,
	)
	if err != nil {
		factory.logger.Error("error while creating new audio track", "err", err)
		return nil, err
	}

	return track, nil
}

// Handle creation of a new peer on the offering side of the connection, i.e. the controller.
//
// Takes a created (but not processed) *webrtc.PeerConnection, and adds the
// protocol and heartbeat data channels. Must be called before the offer is created.
//
// If anything goes wrong, this method returns a nil Peer and a non-nil error.
func (factory *PeerFactory) NewOfferingPeer(connection *webrtc.PeerConnection) (*Peer, error) {
	peer := newPeer(connection, factory.heartbeatPeriod, factory.logger)

	dc, err := connection.CreateDataChannel(networking.DataChannelLabel, networking.DataChannelInit())
	if err != nil {
		peer.logger.Error("error while creating protocol channel", "err", err)
		return nil, err
	}
	peer.sender = networking.NewSender(dc, peer.logger)

	heartbeatDataChannel, err := connection.CreateDataChannel(HeartbeatDataChannelLabel, &webrtc.DataChannelInit{})
	if err != nil {
		peer.logger.Error("error while creating heartbeat channel", "err", err)
		return nil, err
	}
	peer.setHeartbeatDataChannel(heartbeatDataChannel)

	return peer, nil
}

// Handle creation of a new peer on the answering side of the connection, i.e. the virtual microphone.
//
// Takes a created (but not processed) *webrtc.PeerConnection. Protocol messages
// arriving on the data channel made by the offering peer are passed to handler,
// with the peer's context.
func (factory *PeerFactory) NewAnsweringPeer(connection *webrtc.PeerConnection, handler networking.MessageHandler) *Peer {
	peer := newPeer(connection, factory.heartbeatPeriod, factory.logger)

	connection.OnDataChannel(func(dc *webrtc.DataChannel) {
		switch dc.Label() {
		case networking.DataChannelLabel:
			networking.AttachReceiver(peer.ctx, dc, handler, factory.receiverObserver, peer.logger)
		case HeartbeatDataChannelLabel:
			peer.setHeartbeatDataChannel(dc)
		default:
			peer.logger.Warn("unexpected data channel", "label", dc.Label())
		}
	})

	return peer
}

// A networking.ConnectionHandler creating an answering peer for every new connection,
// and handing it to onPeer (which may be nil).
func (factory *PeerFactory) AnsweringHandler(handler networking.MessageHandler, onPeer func(*Peer)) networking.ConnectionHandler {
	return func(pc *webrtc.PeerConnection) error {
		peer := factory.NewAnsweringPeer(pc, handler)
		if onPeer != nil {
			onPeer(peer)
		}
		return nil
	}
}

// Block until the offering peer's protocol channel is open.
func (peer *Peer) WaitReady(ctx context.Context) error {
	if peer.sender == nil {
		return fmt.Errorf("peer %s has no sender", peer.uuid)
	}
	return peer.sender.WaitOpen(ctx)
}
