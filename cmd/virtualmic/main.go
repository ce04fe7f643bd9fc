// The virtual microphone daemon.
//
// Serves the signalling endpoint controllers dial, plays the audio they send
// into the virtual microphone, and optionally records the microphone to a file
// and serves metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/cmd/config"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/audioapi"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/metrics"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/networking"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/peer"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/utils"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/virtualmic"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/audiodevice/device"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 5 * time.Second
)

var (
	ErrInvalidConfig = errors.New("invalid config")
)

func main() {
	configFilePath := flag.String("configFilePath", "config.yaml", "Set the file path to the config file.")
	flag.Parse()

	if err := config.LoadConfig(*configFilePath); err != nil {
		panic(err)
	}
	logFilePointer, err := config.ConfigureLogger()
	if err != nil {
		slog.Error("error while configuring default logger", "err", err)
		panic(err)
	}
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("virtual microphone stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	m := metrics.NewMetrics(nil)

	sessionConfig := config.SessionConfig()
	sessionConfig.Reassembler.Observer = m
	sessionConfig.WriterObserver = m
	sessionConfig.Observer = m
	session := virtualmic.NewSession(sessionConfig, slog.Default())
	defer session.Close()

	platform, err := config.Platform(slog.Default())
	if err != nil {
		return err
	}
	router := virtualmic.NewRouter(platform, session, config.VirtualDescriptor(), m, slog.Default())

	devices, err := router.EnumerateDevices(ctx)
	if err != nil {
		return err
	}
	for _, d := range devices {
		slog.Info("audio device", "deviceID", d.DeviceID, "kind", d.Kind, "label", d.Label)
	}

	if _, err := utils.GetUserAuthorizedCodecs(viper.GetStringSlice("codecs")); err != nil {
		return err
	}

	factory := peer.NewPeerFactory(m, slog.Default())
	connectionManager := networking.NewWebRTCConnectionManager(
		nil,
		utils.WebRTCConfiguration(),
		webrtc.OfferOptions{},
		webrtc.AnswerOptions{},
		factory.AnsweringHandler(session.HandleMessage, func(p *peer.Peer) {
			slog.Info("controller connecting", "peer uuid", p.UUID())
		}),
		slog.Default(),
	)
	defer connectionManager.Close()

	g, ctx := errgroup.WithContext(ctx)

	listenAddress := viper.GetString("listenaddress")
	signallingServer := &http.Server{Addr: listenAddress, Handler: connectionManager.Handler()}
	serve(ctx, g, signallingServer)
	fmt.Printf("virtual microphone identifier: %s\n", networking.EncodeEndpoint("http://"+listenAddress+"/signal"))

	if metricsAddress := viper.GetString("metricsaddress"); metricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", m.Handler())
		mux.HandleFunc("GET /debug/virtualmic", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(session.Debug())
		})
		serve(ctx, g, &http.Server{Addr: metricsAddress, Handler: mux})
	}

	if ttl := sessionConfig.Reassembler.PendingTTL; ttl > 0 {
		g.Go(func() error {
			evictExpired(ctx, session, ttl/2)
			return nil
		})
	}

	if recordFile := viper.GetString("recordfile"); recordFile != "" {
		if err := record(ctx, g, router, recordFile, sessionConfig.SampleRate); err != nil {
			return err
		}
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Run server in g until ctx ends.
func serve(ctx context.Context, g *errgroup.Group, server *http.Server) {
	g.Go(func() error {
		slog.Info("listening", "address", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
}

func evictExpired(ctx context.Context, session *virtualmic.Session, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := session.EvictExpired(); n > 0 {
				slog.Info("evicted expired tracks", "count", n)
			}
		}
	}
}

// Acquire the virtual microphone like any consumer would, and write it to a .WAV file.
func record(ctx context.Context, g *errgroup.Group, router *virtualmic.Router, recordFile string, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("%w: recording needs a fixed samplerate", ErrInvalidConfig)
	}
	handle, err := router.GetUserMedia(ctx, audioapi.MediaStreamConstraints{
		Audio: audioapi.ExactAudioDevice(router.Descriptor().DeviceID),
	})
	if err != nil {
		return err
	}

	recorder, err := device.NewFileAudioOutputDevice(recordFile, audiodevice.DeviceProperties{
		SampleRate:  sampleRate,
		NumChannels: 1,
	})
	if err != nil {
		handle.Close()
		return err
	}
	recorder.SetStream(handle.GetStream())
	slog.Info("recording virtual microphone", "file", recordFile, "streamID", handle.ID())

	g.Go(func() error {
		<-ctx.Done()
		handle.Close()
		recorder.WaitForClose()
		slog.Info("recording saved", "file", recordFile, "samples", recorder.SamplesWritten())
		return nil
	})
	return nil
}
