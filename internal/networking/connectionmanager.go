package networking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

var (
	ErrInvalidEndpoint = errors.New("invalid endpoint identifier")
	ErrSignalling      = errors.New("signalling failed")
	ErrManagerClosed   = errors.New("connection manager closed")
)

// Prepares a new connection before its session description is created,
// e.g. by creating data channels, adding tracks or registering handlers.
type ConnectionHandler func(pc *webrtc.PeerConnection) error

// WebRTCConnectionManager creates connections between a controlling context and the virtual microphone,
// both offering (Dial, on the controller) and answering (Handler, on the virtual microphone).
//
// The general flow of connections is as follows:
//
//  1. The virtual microphone prints a BASE64 encoded "identifier string": the
//     URL of its signalling endpoint (see EncodeEndpoint).
//
//  2. The user hands that string to a controller, which calls Dial. Dial prepares
//     a new PeerConnection, gathers its ICE candidates and POSTs the offer (as a SignallingOffer) to the endpoint.
//
//  3. The answering manager creates a PeerConnection, hands it to its ConnectionHandler,
//     answers, and replies to the HTTP request once its own ICE candidates are gathered.
//
//  4. The dialling manager sets the answer as the remote description, and the
//     connection is established in the background.
//
// Every connection the manager created is tracked until it closes or fails,
// and closed by Close. The manager never sets OnConnectionStateChange, so
// a ConnectionHandler is free to.
type WebRTCConnectionManager struct {
	logger *slog.Logger

	api                     *webrtc.API
	connectionConfiguration webrtc.Configuration
	connectionOfferOptions  webrtc.OfferOptions
	connectionAnswerOptions webrtc.AnswerOptions

	incomingConnectionHandler ConnectionHandler
	incomingSDPOfferServer    *http.ServeMux

	connectionsMutex sync.Mutex
	connections      map[*webrtc.PeerConnection]struct{}
	closed           bool
}

// Create a new WebRTCConnectionManager.
//
// connectionConfig defines the configuration to use for all webrtc.PeerConnections made by this manager, both offering and answering.
// connectionOfferOptions defines the configurations to use for only the offering connections.
// connectionAnswerOptions defines the configurations to use for only the answering connections.
// See https://github.com/pion/webrtc for details on these options.
//
// incomingConnectionHandler prepares answering connections, and may be nil on a manager that only dials.
// If no api is given, webrtc.NewAPI() is used. If no logger is given, slog.Default() is used.
func NewWebRTCConnectionManager(
	api *webrtc.API,
	connectionConfig webrtc.Configuration,
	connectionOfferOptions webrtc.OfferOptions,
	connectionAnswerOptions webrtc.AnswerOptions,
	incomingConnectionHandler ConnectionHandler,
	logger *slog.Logger,
) *WebRTCConnectionManager {
	if api == nil {
		api = webrtc.NewAPI()
	}
	if logger == nil {
		logger = slog.Default()
	}

	incomingSDPOfferServer := http.NewServeMux()
	manager := &WebRTCConnectionManager{
		logger: logger.With(
			"connection manager uuid", uuid.New(),
		),
		api:                       api,
		connectionConfiguration:   connectionConfig,
		connectionOfferOptions:    connectionOfferOptions,
		connectionAnswerOptions:   connectionAnswerOptions,
		incomingConnectionHandler: incomingConnectionHandler,
		incomingSDPOfferServer:    incomingSDPOfferServer,
		connections:               make(map[*webrtc.PeerConnection]struct{}),
	}

	incomingSDPOfferServer.HandleFunc("POST /signal", manager.listenIncomingSessionOffers)

	return manager
}

// The HTTP handler answering offers on /signal.
func (manager *WebRTCConnectionManager) Handler() http.Handler {
	return manager.incomingSDPOfferServer
}

// Number of tracked connections that have not closed or failed.
func (manager *WebRTCConnectionManager) NumConnections() int {
	manager.connectionsMutex.Lock()
	defer manager.connectionsMutex.Unlock()
	for pc := range manager.connections {
		switch pc.ConnectionState() {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			delete(manager.connections, pc)
		}
	}
	return len(manager.connections)
}

// Close every tracked connection. New connections are refused afterwards.
func (manager *WebRTCConnectionManager) Close() error {
	manager.connectionsMutex.Lock()
	manager.closed = true
	connections := make([]*webrtc.PeerConnection, 0, len(manager.connections))
	for pc := range manager.connections {
		connections = append(connections, pc)
	}
	clear(manager.connections)
	manager.connectionsMutex.Unlock()

	var errs []error
	for _, pc := range connections {
		errs = append(errs, pc.Close())
	}
	return errors.Join(errs...)
}

// Create and track a new connection, prepared by handler.
func (manager *WebRTCConnectionManager) newConnection(logger *slog.Logger, handler ConnectionHandler) (*webrtc.PeerConnection, error) {
	pc, err := manager.api.NewPeerConnection(manager.connectionConfiguration)
	if err != nil {
		return nil, err
	}

	manager.connectionsMutex.Lock()
	if manager.closed {
		manager.connectionsMutex.Unlock()
		pc.Close()
		return nil, ErrManagerClosed
	}
	manager.connections[pc] = struct{}{}
	manager.connectionsMutex.Unlock()

	pc.OnICEConnectionStateChange(func(is webrtc.ICEConnectionState) {
		logger.Info(
			"ICE connection state change",
			"ICE connection state", is.String(),
		)
	})

	if handler != nil {
		if err := handler(pc); err != nil {
			manager.forget(pc)
			pc.Close()
			return nil, err
		}
	}
	return pc, nil
}

func (manager *WebRTCConnectionManager) forget(pc *webrtc.PeerConnection) {
	manager.connectionsMutex.Lock()
	defer manager.connectionsMutex.Unlock()
	delete(manager.connections, pc)
}

// Wait until a connection has gathered all its ICE candidates, so its local description is complete.
func waitForGathering(ctx context.Context, gatherComplete <-chan struct{}) error {
	select {
	case <-gatherComplete:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Answer an incoming SDP offer on HTTP.
//
// When a new offer is received, this method starts a new webrtc.PeerConnection, prepares it with
// the incomingConnectionHandler, answers the offer and replies with the answer once ICE gathering is complete.
func (manager *WebRTCConnectionManager) listenIncomingSessionOffers(w http.ResponseWriter, r *http.Request) {
	requestLogger := manager.logger.WithGroup("request").With(
		"requestUUID", uuid.New().String(),
	)
	requestLogger.Debug("new incoming session offer")

	var signallingOffer SignallingOffer
	if err := json.NewDecoder(r.Body).Decode(&signallingOffer); err != nil {
		requestLogger.Error(
			"error while decoding new session offer from JSON",
			"err", err,
		)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if signallingOffer.WebRTCSessionDescription.Type != webrtc.SDPTypeOffer {
		requestLogger.Error(
			"session description is not an offer",
			"type", signallingOffer.WebRTCSessionDescription.Type.String(),
		)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	pc, err := manager.newConnection(requestLogger, manager.incomingConnectionHandler)
	if err != nil {
		requestLogger.Error(
			"error while creating new peer connection for answering",
			"err", err,
		)
		if errors.Is(err, ErrManagerClosed) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	fail := func(status int, msg string, err error) {
		requestLogger.Error(msg, "err", err)
		manager.forget(pc)
		pc.Close()
		w.WriteHeader(status)
	}

	if err := pc.SetRemoteDescription(signallingOffer.WebRTCSessionDescription); err != nil {
		fail(http.StatusBadRequest, "error while setting remote description of new peer connection", err)
		return
	}

	answer, err := pc.CreateAnswer(&manager.connectionAnswerOptions)
	if err != nil {
		fail(http.StatusInternalServerError, "error while creating answer of new peer connection", err)
		return
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		fail(http.StatusInternalServerError, "error while setting local description of new peer connection", err)
		return
	}
	requestLogger.Debug("answering peer connection initialized")

	if err := waitForGathering(r.Context(), gatherComplete); err != nil {
		fail(http.StatusServiceUnavailable, "request ended before ICE gathering completed", err)
		return
	}
	requestLogger.Debug("answering peer connection ICE resolved")

	answerJSON, err := json.Marshal(pc.LocalDescription())
	if err != nil {
		fail(http.StatusInternalServerError, "error while marshalling local description of new peer connection to JSON", err)
		return
	}

	requestLogger.Debug("sending answer")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(answerJSON)
}

// Attempt to make a connection to the virtual microphone identified by remoteEndpointEncoded (see EncodeEndpoint).
//
// prepare is called on the new connection before the offer is created; a data
// channel must be created there for the offer to negotiate one.
//
// The returned connection is owned by the caller, meaning it should be closed by the caller, too.
// It is not necessarily connected yet when Dial returns.
func (manager *WebRTCConnectionManager) Dial(ctx context.Context, remoteEndpointEncoded string, prepare ConnectionHandler) (*webrtc.PeerConnection, error) {
	requestLogger := manager.logger.WithGroup("request").With(
		"requestUUID", uuid.New().String(),
	)
	requestLogger.Debug("new SDP offer started")

	remoteEndpoint, err := DecodeEndpoint(remoteEndpointEncoded)
	if err != nil {
		requestLogger.Error(
			"error while decoding remote endpoint",
			"err", err,
		)
		return nil, err
	}
	requestLogger = requestLogger.With("remoteEndpoint", remoteEndpoint)

	pc, err := manager.newConnection(requestLogger, prepare)
	if err != nil {
		requestLogger.Error(
			"error while creating new peer connection for dialing",
			"err", err,
		)
		return nil, err
	}
	fail := func(msg string, err error) (*webrtc.PeerConnection, error) {
		requestLogger.Error(msg, "err", err)
		manager.forget(pc)
		pc.Close()
		return nil, err
	}

	offer, err := pc.CreateOffer(&manager.connectionOfferOptions)
	if err != nil {
		return fail("error while creating new offer in dialing", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err = pc.SetLocalDescription(offer); err != nil {
		return fail("error while setting connection local description in dialing", err)
	}
	if err := waitForGathering(ctx, gatherComplete); err != nil {
		return fail("context ended before ICE gathering completed", err)
	}

	signallingOffer := SignallingOffer{
		RemoteEndpoint:           remoteEndpoint,
		WebRTCSessionDescription: *pc.LocalDescription(),
	}
	signallingOfferJSON, err := json.Marshal(signallingOffer)
	if err != nil {
		return fail("error while marshalling offer to JSON", err)
	}
	requestLogger.Debug("sending offer")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, remoteEndpoint, bytes.NewBuffer(signallingOfferJSON))
	if err != nil {
		return fail("error while creating new http request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// If ctx.cancel is called, or ctx timeout is reached, this returns with non-nil error
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fail("error while posting offer to remote endpoint", err)
	}
	defer resp.Body.Close()
	requestLogger.Debug("response received", "status", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		return fail("offer refused", fmt.Errorf("%w: %s", ErrSignalling, resp.Status))
	}

	var answer webrtc.SessionDescription
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return fail("error while parsing answer response from remote peer", err)
	}

	if err = pc.SetRemoteDescription(answer); err != nil {
		return fail("error while setting connection remote description in dialing", err)
	}
	requestLogger.Debug("peer connection set")

	return pc, nil
}
