package networking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/protocol"
)

type countingObserver struct {
	mu           sync.Mutex
	decodeErrors int
}

func (o *countingObserver) RecordDecodeError() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decodeErrors++
}

func TestDataChannelInit(t *testing.T) {
	init := DataChannelInit()
	if init.Ordered == nil || *init.Ordered {
		t.Error("Expected an unordered data channel")
	}
	if init.MaxRetransmits != nil || init.MaxPacketLifeTime != nil {
		t.Error("Expected a reliable data channel")
	}
}

func TestReceiverHandle(t *testing.T) {
	t.Parallel()

	encode := func(msg protocol.Message) []byte {
		data, err := protocol.Encode(msg)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		return data
	}

	tests := []struct {
		name         string
		data         []byte
		isString     bool
		handlerErr   error
		handled      string
		decodeErrors int
	}{
		{name: "state", data: encode(&protocol.StateMessage{Enabled: true}), handled: protocol.TypeVirtualState},
		{name: "chunk", data: encode(&protocol.AudioChunkMessage{TrackID: "t", SampleRate: 8000, Samples: []int16{1, 2}}), handled: protocol.TypePCMChunk},
		{name: "handler error", data: encode(&protocol.StateMessage{}), handlerErr: errors.New("refused"), handled: protocol.TypeVirtualState},
		{name: "text message", data: []byte("hello"), isString: true, decodeErrors: 1},
		{name: "unknown type", data: []byte{0x7f}, decodeErrors: 1},
		{name: "empty", data: nil, decodeErrors: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			observer := &countingObserver{}
			var handled []string
			r := &receiver{
				logger: slog.Default(),
				ctx:    context.Background(),
				handler: func(ctx context.Context, msg protocol.Message) error {
					handled = append(handled, msg.Type())
					return tt.handlerErr
				},
				observer: observer,
			}

			r.handle(tt.data, tt.isString)

			if tt.handled == "" && len(handled) != 0 {
				t.Errorf("Expected nothing handled, got %v", handled)
			}
			if tt.handled != "" && (len(handled) != 1 || handled[0] != tt.handled) {
				t.Errorf("Expected %s handled, got %v", tt.handled, handled)
			}
			if observer.decodeErrors != tt.decodeErrors {
				t.Errorf("Expected %d decode errors, got %d", tt.decodeErrors, observer.decodeErrors)
			}
		})
	}
}

func TestReceiverWithoutObserver(t *testing.T) {
	r := &receiver{
		logger:  slog.Default(),
		ctx:     context.Background(),
		handler: func(ctx context.Context, msg protocol.Message) error { return nil },
	}
	r.handle([]byte{0x7f}, false)
}
