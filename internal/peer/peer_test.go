package peer

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/networking"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/protocol"
	"github.com/pion/webrtc/v4"
)

func newTestConnection(t *testing.T) *webrtc.PeerConnection {
	t.Helper()
	pc, err := networking.NewLoopbackAPI().NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection failed: %v", err)
	}
	return pc
}

func TestRecordHeartbeat(t *testing.T) {
	t.Parallel()

	sent := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	valid, err := sent.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}

	tests := []struct {
		name     string
		data     []byte
		expected time.Duration
	}{
		{name: "valid", data: valid, expected: 40 * time.Millisecond},
		{name: "garbage", data: []byte{0xff}, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			peer := newPeer(newTestConnection(t), HEARTBEAT_PERIOD, slog.New(slog.DiscardHandler))
			defer peer.Close()

			peer.recordHeartbeat(tt.data, sent.Add(40*time.Millisecond))
			if got := peer.Latency(); got != tt.expected {
				t.Errorf("Expected latency %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestPeerClose(t *testing.T) {
	peer := newPeer(newTestConnection(t), HEARTBEAT_PERIOD, slog.New(slog.DiscardHandler))

	peer.Close()
	peer.Close()

	select {
	case <-peer.GetContext().Done():
	default:
		t.Error("Expected context to be cancelled")
	}
	if state := peer.Connection().ConnectionState(); state != webrtc.PeerConnectionStateClosed {
		t.Errorf("Expected closed connection, got %s", state)
	}
}

func TestFactoryPeers(t *testing.T) {
	factory := NewPeerFactory(nil, nil)

	offering, err := factory.NewOfferingPeer(newTestConnection(t))
	if err != nil {
		t.Fatalf("NewOfferingPeer failed: %v", err)
	}
	defer offering.Close()
	if offering.Sender() == nil {
		t.Error("Expected offering peer to have a sender")
	}

	var handed *Peer
	handler := factory.AnsweringHandler(func(ctx context.Context, msg protocol.Message) error { return nil }, func(p *Peer) { handed = p })
	if err := handler(newTestConnection(t)); err != nil {
		t.Fatalf("AnsweringHandler failed: %v", err)
	}
	if handed == nil {
		t.Fatal("Expected answering peer to be handed over")
	}
	defer handed.Close()
	if handed.Sender() != nil {
		t.Error("Expected answering peer without sender")
	}
	if err := handed.WaitReady(context.Background()); err == nil {
		t.Error("Expected WaitReady to fail on answering peer")
	}
	if handed.UUID() == offering.UUID() {
		t.Error("Expected distinct peer ids")
	}
}

func TestFactoryAudioTrack(t *testing.T) {
	factory := NewPeerFactory(nil, nil)
	track, err := factory.NewAudioTrack(networking.CodecMap["CodecPCMU8000Mono"])
	if err != nil {
		t.Fatalf("NewAudioTrack failed: %v", err)
	}
	if track.Codec().MimeType != webrtc.MimeTypePCMU {
		t.Errorf("Expected PCMU track, got %s", track.Codec().MimeType)
	}
}

func TestOfferingToAnswering(t *testing.T) {
	if testing.Short() {
		t.Skip("opens loopback network connections")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	factory := NewPeerFactory(nil, nil)
	factory.SetHeartbeatPeriod(20 * time.Millisecond)

	received := make(chan protocol.Message, 1)
	var offering *Peer
	controller, consumer, err := networking.NewLoopbackPair(ctx, nil, webrtc.Configuration{},
		func(pc *webrtc.PeerConnection) error {
			var err error
			offering, err = factory.NewOfferingPeer(pc)
			return err
		},
		factory.AnsweringHandler(func(ctx context.Context, msg protocol.Message) error {
			received <- msg
			return nil
		}, nil),
	)
	if err != nil {
		t.Fatalf("NewLoopbackPair failed: %v", err)
	}
	defer controller.Close()
	defer consumer.Close()

	if err := offering.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}
	if err := offering.Sender().Send(ctx, &protocol.StateMessage{Enabled: true}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Type() != protocol.TypeVirtualState {
			t.Errorf("Expected state message, got %s", msg.Type())
		}
	case <-ctx.Done():
		t.Fatal("Timed out waiting for message")
	}
}
