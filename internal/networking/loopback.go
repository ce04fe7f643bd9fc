package networking

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

// A webrtc.API whose ICE agents also gather loopback candidates, so two peers
// in one process (or on one host without other interfaces) can connect.
func NewLoopbackAPI() *webrtc.API {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)
	settingEngine.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	return webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
}

// Build an in-process controller/consumer pair of connections.
//
// prepareController runs on the offering connection before the offer is
// created (create the data channel there), prepareConsumer on the answering
// connection before the offer is applied. Descriptions are exchanged once ICE
// gathering completes on each side.
//
// The returned connections are owned by the caller. If api is nil, NewLoopbackAPI() is used.
func NewLoopbackPair(
	ctx context.Context,
	api *webrtc.API,
	config webrtc.Configuration,
	prepareController ConnectionHandler,
	prepareConsumer ConnectionHandler,
) (controller *webrtc.PeerConnection, consumer *webrtc.PeerConnection, err error) {
	if api == nil {
		api = NewLoopbackAPI()
	}

	controller, err = api.NewPeerConnection(config)
	if err != nil {
		return nil, nil, err
	}
	consumer, err = api.NewPeerConnection(config)
	if err != nil {
		controller.Close()
		return nil, nil, err
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, controller.Close(), consumer.Close())
			controller, consumer = nil, nil
		}
	}()

	if prepareController != nil {
		if err = prepareController(controller); err != nil {
			return
		}
	}
	if prepareConsumer != nil {
		if err = prepareConsumer(consumer); err != nil {
			return
		}
	}

	offer, err := controller.CreateOffer(nil)
	if err != nil {
		return
	}
	controllerGathered := webrtc.GatheringCompletePromise(controller)
	if err = controller.SetLocalDescription(offer); err != nil {
		return
	}
	if err = waitForGathering(ctx, controllerGathered); err != nil {
		return
	}

	if err = consumer.SetRemoteDescription(*controller.LocalDescription()); err != nil {
		return
	}
	answer, err := consumer.CreateAnswer(nil)
	if err != nil {
		return
	}
	consumerGathered := webrtc.GatheringCompletePromise(consumer)
	if err = consumer.SetLocalDescription(answer); err != nil {
		return
	}
	if err = waitForGathering(ctx, consumerGathered); err != nil {
		return
	}

	err = controller.SetRemoteDescription(*consumer.LocalDescription())
	return
}
