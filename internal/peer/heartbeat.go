package peer

import (
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	HEARTBEAT_PERIOD time.Duration = 5 * time.Second

	HeartbeatDataChannelLabel = "heartbeat"
)

func (peer *Peer) setHeartbeatDataChannel(dc *webrtc.DataChannel) {
	dc.OnOpen(func() { peer.heartbeatSendMessageHandler(dc) })
	dc.OnMessage(peer.heartbeatOnMessageHandler)
}

// heartbeat onOpen handler
// Once opened, send a heartbeat message every heartbeatPeriod until the peer closes
func (peer *Peer) heartbeatSendMessageHandler(dc *webrtc.DataChannel) {
	heartbeatTicker := time.NewTicker(peer.heartbeatPeriod)
	defer heartbeatTicker.Stop()
	for {
		var sendingTimestamp time.Time
		select {
		case <-peer.ctx.Done():
			return
		case sendingTimestamp = <-heartbeatTicker.C:
		}

		msg, err := sendingTimestamp.MarshalBinary()
		if err != nil {
			peer.logger.Error("error while marshalling sending timestamp to binary", "err", err)
			continue
		}
		peer.logger.Debug("sending heartbeat", "sendingTimestamp", sendingTimestamp)
		if err := dc.Send(msg); err != nil {
			peer.logger.Error("error when sending heartbeat", "err", err)
		}
	}
}

// heartbeat onMessage handler
// handle a new message on the heartbeat data channel
func (peer *Peer) heartbeatOnMessageHandler(msg webrtc.DataChannelMessage) {
	peer.recordHeartbeat(msg.Data, time.Now())
}

func (peer *Peer) recordHeartbeat(data []byte, currentTime time.Time) {
	var sendingTime time.Time
	if err := sendingTime.UnmarshalBinary(data); err != nil {
		peer.logger.Warn("invalid heartbeat", "err", err)
		return
	}

	networkLatency := currentTime.Sub(sendingTime)
	peer.latency.Store(int64(networkLatency))

	peer.logger.Debug(
		"received heartbeat",
		"networkLatency", networkLatency,
		"currentTime", currentTime,
		"sendingTime", sendingTime,
	)
}
