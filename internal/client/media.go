package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"

	"github.com/majid78715/Jira-V1-sub001/internal/audio"
	"github.com/majid78715/Jira-V1-sub001/internal/domain"
)

var ErrMediaUnavailable = errors.New("media device unavailable")

// LocalTrack is one owned capture track. Enabled mirrors the browser track
// flag: disabling stops payload flow without tearing the sender down.
type LocalTrack interface {
	Kind() domain.MediaKind
	Enabled() bool
	SetEnabled(bool)
	// RTC exposes the transport-level track, nil when the implementation has
	// no real transport (test fakes).
	RTC() webrtc.TrackLocal
	Close()
}

// LocalMedia is the exclusively-owned bundle of capture tracks for one call.
type LocalMedia struct {
	Tracks []LocalTrack
}

func (m *LocalMedia) Stop() {
	if m == nil {
		return
	}
	for _, t := range m.Tracks {
		t.Close()
	}
	m.Tracks = nil
}

func (m *LocalMedia) AudioTracks() []LocalTrack {
	var out []LocalTrack
	for _, t := range m.Tracks {
		if t.Kind() == domain.MediaAudio {
			out = append(out, t)
		}
	}
	return out
}

func (m *LocalMedia) VideoTracks() []LocalTrack {
	var out []LocalTrack
	for _, t := range m.Tracks {
		if t.Kind() == domain.MediaVideo {
			out = append(out, t)
		}
	}
	return out
}

// MediaSource acquires local capture. The real capture pipeline lives outside
// this subsystem; the tone source below stands in wherever no device stack is
// wired.
type MediaSource interface {
	Acquire(ctx context.Context, kind domain.MediaKind) (*LocalMedia, error)
}

// ToneSource synthesizes a PCMU audio track from a sine generator. Video
// acquisition always fails, which doubles as the fallback-path exercise.
type ToneSource struct{}

func (ToneSource) Acquire(ctx context.Context, kind domain.MediaKind) (*LocalMedia, error) {
	track, err := newToneTrack()
	if err != nil {
		return nil, err
	}
	lm := &LocalMedia{Tracks: []LocalTrack{track}}
	if kind == domain.MediaVideo {
		lm.Stop()
		return nil, ErrMediaUnavailable
	}
	return lm, nil
}

const (
	toneFrameDuration = 20 * time.Millisecond
	toneSampleRate    = 8000 // must match the PCMU clock rate
)

// toneTrack feeds 20ms µ-law frames of a sine wave into a static sample
// track while enabled.
type toneTrack struct {
	rtc *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	enabled bool
	done    chan struct{}
}

func newToneTrack() (*toneTrack, error) {
	rtc, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
		"audio-"+uuid.NewString(), "tone",
	)
	if err != nil {
		return nil, err
	}
	t := &toneTrack{rtc: rtc, enabled: true, done: make(chan struct{})}
	go t.loop()
	return t, nil
}

func (t *toneTrack) loop() {
	frame := audio.PCM16ToUlaw(audio.SineWaveRate(toneSampleRate, toneFrameDuration.Seconds(), audio.RingFrequency))
	ticker := time.NewTicker(toneFrameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if !t.Enabled() {
				continue
			}
			err := t.rtc.WriteSample(media.Sample{Data: frame, Duration: toneFrameDuration})
			if err != nil {
				log.Debug().Err(err).Str("module", "client.media").Msg("tone write")
			}
		}
	}
}

func (t *toneTrack) Kind() domain.MediaKind { return domain.MediaAudio }

func (t *toneTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *toneTrack) SetEnabled(on bool) {
	t.mu.Lock()
	t.enabled = on
	t.mu.Unlock()
}

func (t *toneTrack) RTC() webrtc.TrackLocal { return t.rtc }

func (t *toneTrack) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}
