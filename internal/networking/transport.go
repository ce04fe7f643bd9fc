package networking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/protocol"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

const (
	// Label of the data channel carrying protocol messages.
	DataChannelLabel = "virtualmic"

	// Send blocks while more than this many bytes are queued on the data channel.
	DefaultMaxBufferedAmount uint64 = 1 << 20

	drainPollInterval = 10 * time.Millisecond
)

var (
	ErrChannelClosed = errors.New("data channel closed")
)

// Options for the protocol data channel: unordered, but reliable per message.
// Chunks may arrive in any order and are reassembled by index.
func DataChannelInit() *webrtc.DataChannelInit {
	ordered := false
	return &webrtc.DataChannelInit{
		Ordered: &ordered,
	}
}

// --------------------------------------------------------------------------------
// SENDER

// Sends protocol messages on a data channel.
//
// Send waits for the channel to open, and blocks while the channel's buffered
// amount is above the high-water mark until it drains below half of it.
type Sender struct {
	logger *slog.Logger

	dc *webrtc.DataChannel

	maxBufferedAmount uint64

	opened     chan struct{}
	openedOnce sync.Once
	closed     chan struct{}
	closedOnce sync.Once

	// Signalled (non-blocking) when the buffered amount falls below the low threshold
	lowWater chan struct{}
}

// Create a new Sender on dc. dc should be newly created, so that its open event is not missed.
//
// If no logger is given, slog.Default() is used.
func NewSender(dc *webrtc.DataChannel, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sender{
		logger: logger.With(
			"sender uuid", uuid.New(),
			"label", dc.Label(),
		),
		dc:                dc,
		maxBufferedAmount: DefaultMaxBufferedAmount,
		opened:            make(chan struct{}),
		closed:            make(chan struct{}),
		lowWater:          make(chan struct{}, 1),
	}

	dc.SetBufferedAmountLowThreshold(s.maxBufferedAmount / 2)
	dc.OnBufferedAmountLow(func() {
		select {
		case s.lowWater <- struct{}{}:
		default:
		}
	})
	dc.OnOpen(s.markOpen)
	dc.OnClose(s.markClosed)

	if dc.ReadyState() == webrtc.DataChannelStateOpen {
		s.markOpen()
	}

	return s
}

func (s *Sender) markOpen() {
	s.openedOnce.Do(func() {
		s.logger.Debug("data channel open")
		close(s.opened)
	})
}

func (s *Sender) markClosed() {
	s.closedOnce.Do(func() {
		s.logger.Debug("data channel closed")
		close(s.closed)
	})
}

// Block until the data channel is open.
func (s *Sender) WaitOpen(ctx context.Context) error {
	select {
	case <-s.opened:
		return nil
	case <-s.closed:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Encode and send msg.
func (s *Sender) Send(ctx context.Context, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	if err := s.WaitOpen(ctx); err != nil {
		return err
	}

	for s.dc.BufferedAmount() > s.maxBufferedAmount {
		select {
		case <-s.lowWater:
		case <-s.closed:
			return ErrChannelClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := s.dc.Send(data); err != nil {
		return err
	}
	return nil
}

// Block until every queued message has been handed to the transport.
func (s *Sender) Drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for s.dc.BufferedAmount() > 0 {
		select {
		case <-ticker.C:
		case <-s.closed:
			return ErrChannelClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Sender) Close() error {
	return s.dc.Close()
}

// --------------------------------------------------------------------------------
// RECEIVER

// Handles a decoded message received on the data channel.
type MessageHandler func(ctx context.Context, msg protocol.Message) error

// Receives receiver events, e.g. for metrics.
type ReceiverObserver interface {
	RecordDecodeError()
}

type receiver struct {
	logger   *slog.Logger
	ctx      context.Context
	handler  MessageHandler
	observer ReceiverObserver
}

// Decode every binary message on dc and pass it to handler.
//
// Messages are handled in the order the data channel delivers them. Text
// messages and undecodable messages are dropped and logged; handler errors are
// logged and never close the channel. ctx is passed to handler.
// observer may be nil. If no logger is given, slog.Default() is used.
func AttachReceiver(ctx context.Context, dc *webrtc.DataChannel, handler MessageHandler, observer ReceiverObserver, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &receiver{
		logger: logger.With(
			"receiver uuid", uuid.New(),
			"label", dc.Label(),
		),
		ctx:      ctx,
		handler:  handler,
		observer: observer,
	}

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		r.handle(msg.Data, msg.IsString)
	})
}

func (r *receiver) handle(data []byte, isString bool) {
	if isString {
		r.logger.Warn("dropping text message", "length", len(data))
		r.decodeError()
		return
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		r.logger.Warn("dropping undecodable message", "err", err, "length", len(data))
		r.decodeError()
		return
	}

	if err := r.handler(r.ctx, msg); err != nil {
		r.logger.Debug("message not handled", "type", msg.Type(), "err", err)
	}
}

func (r *receiver) decodeError() {
	if r.observer != nil {
		r.observer.RecordDecodeError()
	}
}
