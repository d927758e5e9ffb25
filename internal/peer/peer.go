// Package peer wraps the pion peer connection behind the small surface
// the engine needs: one outbound audio track, one "oai-events" data
// channel, offer/answer, and a sink for remote track bytes.
package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const rtpBufferSize = 1500

type Config struct {
	Logger *slog.Logger
	// RemoteSink receives the raw payload bytes of the remote audio
	// track. The engine points this at an energy meter; the bytes are
	// otherwise opaque here.
	RemoteSink io.Writer
	ICEServers []webrtc.ICEServer
}

type Peer struct {
	logger     *slog.Logger
	pc         *webrtc.PeerConnection
	track      *webrtc.TrackLocalStaticSample
	dc         *DataChannel
	remoteSink io.Writer
	closeOnce  sync.Once
}

func New(cfg Config) (*Peer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Peer{
		logger:     logger,
		pc:         pc,
		remoteSink: cfg.RemoteSink,
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  1,
		},
		"audio",
		"phonevoice-audio",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create local audio track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add track: %w", err)
	}
	p.track = track

	dc, err := pc.CreateDataChannel("oai-events", nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	p.dc = newDataChannel(dc)

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		logger.Debug("remote audio track", slog.String("codec", track.Codec().MimeType))
		go p.readRemote(track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("peer connection state", slog.String("state", state.String()))
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			p.dc.notifyClose()
		}
	})

	return p, nil
}

// DataChannel returns the event transport carried by this peer.
func (p *Peer) DataChannel() *DataChannel { return p.dc }

// CreateOffer produces the local session description, waiting for ICE
// gathering so the offer can be submitted in one shot.
func (p *Peer) CreateOffer(ctx context.Context) (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	local := p.pc.LocalDescription()
	if local == nil {
		return "", errors.New("no local description after gathering")
	}
	return local.SDP, nil
}

// ApplyAnswer installs the remote session description.
func (p *Peer) ApplyAnswer(sdp string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

// WriteAudio hands one frame of audio to the outbound track.
func (p *Peer) WriteAudio(data []byte, duration time.Duration) error {
	return p.track.WriteSample(media.Sample{Data: data, Duration: duration})
}

// readRemote pumps remote track payloads into the sink until the track
// goes away. Source loss is not an error here; the reader just returns.
func (p *Peer) readRemote(track *webrtc.TrackRemote) {
	if p.remoteSink == nil {
		return
	}
	buf := make([]byte, rtpBufferSize)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			p.logger.Debug("bad rtp packet", slog.Any("err", err))
			continue
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		if _, err := p.remoteSink.Write(pkt.Payload); err != nil {
			return
		}
	}
}

func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.dc.Close()
		err = p.pc.Close()
	})
	return err
}
