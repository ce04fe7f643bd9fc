// Runs a controller and a virtual microphone in one process, connected over
// WebRTC through the loopback interface.
//
// The microphone side acquires the virtual microphone like an application
// would and publishes it as a PCMU track. The controller plays a tone (or an
// audio file) into the microphone, and records the track it receives back.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/cmd/config"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/audioapi"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/controller"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/networking"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/peer"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/utils"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/internal/virtualmic"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/audiodevice/device"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/pcm"
	"github.com/Honorable-Knights-of-the-Roundtable/virtualmic/pkg/spectrum"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"
)

const (
	// Extra time for the last frames to cross the connection
	playbackMargin = 500 * time.Millisecond
)

func main() {
	configFilePath := flag.String("configFilePath", "config.yaml", "Set the file path to the config file.")
	audioFile := flag.String("file", "", "Play this .wav, .mp3 or .ogg file. If empty, a test tone is played.")
	toneDuration := flag.Duration("tone", 3*time.Second, "Length of the test tone.")
	recordFile := flag.String("record", "loopback.wav", "Write the received track to this .WAV file.")
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

	if err := run(ctx, *audioFile, *toneDuration, *recordFile); err != nil {
		slog.Error("loopback failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, audioFile string, toneDuration time.Duration, recordFile string) error {
	codecs, err := utils.GetUserAuthorizedCodecs(viper.GetStringSlice("codecs"))
	if err != nil {
		return err
	}
	properties := audiodevice.DeviceProperties{
		SampleRate:  int(codecs[0].ClockRate),
		NumChannels: 1,
	}

	// --------------------------------------------------------------------------------
	// Virtual microphone side

	sessionConfig := config.SessionConfig()
	sessionConfig.SampleRate = properties.SampleRate
	session := virtualmic.NewSession(sessionConfig, slog.Default())
	defer session.Close()

	platform, err := config.Platform(slog.Default())
	if err != nil {
		return err
	}
	router := virtualmic.NewRouter(platform, session, config.VirtualDescriptor(), nil, slog.Default())

	// --------------------------------------------------------------------------------
	// Controller side

	recorder, err := device.NewFileAudioOutputDevice(recordFile, properties)
	if err != nil {
		return err
	}
	var recordOnce sync.Once
	startRecording := func(stream <-chan frame.PCMFrame) {
		recordOnce.Do(func() { recorder.SetStream(stream) })
	}

	// --------------------------------------------------------------------------------

	factory := peer.NewPeerFactory(nil, slog.Default())
	var controllerPeer *peer.Peer
	var microphoneTrack *webrtc.TrackLocalStaticSample

	controllerConnection, microphoneConnection, err := networking.NewLoopbackPair(
		ctx,
		nil,
		utils.WebRTCConfiguration(),
		func(pc *webrtc.PeerConnection) error {
			var err error
			controllerPeer, err = factory.NewOfferingPeer(pc)
			if err != nil {
				return err
			}
			_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			})
			if err != nil {
				return err
			}
			pc.OnTrack(func(tr *webrtc.TrackRemote, r *webrtc.RTPReceiver) {
				slog.Info("received microphone track", "trackID", tr.ID(), "mime", tr.Codec().MimeType)
				stream, err := controllerPeer.ReceiveAudio(tr)
				if err != nil {
					slog.Error("cannot record microphone track", "err", err)
					return
				}
				startRecording(stream)
			})
			return nil
		},
		func(pc *webrtc.PeerConnection) error {
			factory.NewAnsweringPeer(pc, session.HandleMessage)

			var err error
			microphoneTrack, err = factory.NewAudioTrack(codecs[0])
			if err != nil {
				return err
			}
			rtpSender, err := pc.AddTrack(microphoneTrack)
			if err != nil {
				return err
			}
			// Handle RTCP packets for the audio track
			go func() {
				rtcpBuf := make([]byte, 1500)
				for {
					if _, _, rtcpErr := rtpSender.Read(rtcpBuf); rtcpErr != nil {
						return
					}
				}
			}()
			return nil
		},
	)
	if err != nil {
		return err
	}
	defer controllerConnection.Close()
	defer microphoneConnection.Close()

	// --------------------------------------------------------------------------------
	// An application on the microphone side acquires the virtual microphone and publishes it

	handle, err := router.GetUserMedia(ctx, audioapi.MediaStreamConstraints{Audio: audioapi.AnyAudio()})
	if err != nil {
		return err
	}
	defer handle.Close()
	sink, err := device.NewWebRTCTrackSinkDevice(microphoneTrack, properties)
	if err != nil {
		return err
	}
	sink.SetStream(handle.GetStream())

	// --------------------------------------------------------------------------------
	// The controller plays audio into the microphone

	if err := controllerPeer.WaitReady(ctx); err != nil {
		return err
	}
	c := controller.New(controllerPeer.Sender(), viper.GetInt("chunksamples"), slog.Default())
	if err := c.SetEnabled(ctx, true); err != nil {
		return err
	}

	var duration time.Duration
	if audioFile != "" {
		_, duration, err = c.PlayFile(ctx, audioFile)
	} else {
		_, duration, err = c.PlayFrame(ctx, uint32(properties.SampleRate), controller.Tone(toneDuration, properties.SampleRate))
	}
	if err != nil {
		return err
	}

	select {
	case <-time.After(duration + playbackMargin):
	case <-ctx.Done():
	}

	// Disabling ends the microphone stream, which ends the published track
	if err := c.SetEnabled(context.Background(), false); err != nil && !errors.Is(err, networking.ErrChannelClosed) {
		slog.Warn("could not disable virtual microphone", "err", err)
	}
	select {
	case <-sink.Done():
	case <-time.After(playbackMargin):
	}
	controllerPeer.Close()

	// Finalise the file even if no track ever arrived
	noTrack := make(chan frame.PCMFrame)
	close(noTrack)
	startRecording(noTrack)
	recorder.WaitForClose()

	fmt.Printf("recorded %d samples to %s\n", recorder.SamplesWritten(), recordFile)
	return summarise(recordFile)
}

// Print the level and dominant frequency of the recording, so a round trip can be checked without listening.
func summarise(recordFile string) error {
	track, err := device.ReadWAVFile(recordFile)
	if err != nil {
		return err
	}
	samples := pcm.ToFrame(track.Samples)
	fmt.Printf(
		"received %v at %d Hz: rms %.3f, dominant frequency %.0f Hz\n",
		frame.SamplesDuration(len(samples), int(track.SampleRate)),
		track.SampleRate,
		spectrum.RMS(samples),
		spectrum.DominantFrequency(samples, int(track.SampleRate)),
	)
	return nil
}
