// A controller for a remote virtual microphone.
//
// Dials the microphone identified by -identifier, enables it, plays an audio file
// (or a generated test tone) through it, and optionally disables it once the
// audio has played.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/cmd/config"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/controller"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/networking"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/peer"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/utils"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/chunk"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"
)

const (
	connectTimeout = 30 * time.Second
)

func main() {
	configFilePath := flag.String("configFilePath", "config.yaml", "Set the file path to the config file.")
	identifier := flag.String("identifier", "", "The identifier string printed by the virtual microphone.")
	audioFile := flag.String("file", "", "Play this .wav, .mp3 or .ogg file. If empty, a test tone is played.")
	toneDuration := flag.Duration("tone", 3*time.Second, "Length of the test tone.")
	disable := flag.Bool("disable", false, "Disable the virtual microphone once the audio has played.")
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

	if *identifier == "" {
		slog.Error("no identifier given, see -help")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *identifier, *audioFile, *toneDuration, *disable); err != nil {
		slog.Error("controller stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, identifier string, audioFile string, toneDuration time.Duration, disable bool) error {
	connectionManager := networking.NewWebRTCConnectionManager(
		nil,
		utils.WebRTCConfiguration(),
		webrtc.OfferOptions{},
		webrtc.AnswerOptions{},
		nil,
		slog.Default(),
	)
	defer connectionManager.Close()

	factory := peer.NewPeerFactory(nil, slog.Default())
	var p *peer.Peer

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	_, err := connectionManager.Dial(connectCtx, identifier, func(pc *webrtc.PeerConnection) error {
		var err error
		p, err = factory.NewOfferingPeer(pc)
		return err
	})
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.WaitReady(connectCtx); err != nil {
		return err
	}
	slog.Info("connected to virtual microphone")

	c := controller.New(p.Sender(), viper.GetInt("chunksamples"), slog.Default())
	if err := c.SetEnabled(ctx, true); err != nil {
		return err
	}

	var duration time.Duration
	if audioFile != "" {
		_, duration, err = c.PlayFile(ctx, audioFile)
	} else {
		sampleRate := viper.GetInt("samplerate")
		if sampleRate <= 0 {
			sampleRate = chunk.DefaultSampleRate
		}
		_, duration, err = c.PlayFrame(ctx, uint32(sampleRate), controller.Tone(toneDuration, sampleRate))
	}
	if err != nil {
		return err
	}

	if err := p.Sender().Drain(ctx); err != nil {
		return err
	}
	if !disable {
		return nil
	}

	// The microphone plays in realtime, so wait for the track before switching it off
	select {
	case <-time.After(duration):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := c.SetEnabled(ctx, false); err != nil {
		return err
	}
	if err := p.Sender().Drain(ctx); err != nil && !errors.Is(err, networking.ErrChannelClosed) {
		return err
	}
	return nil
}
