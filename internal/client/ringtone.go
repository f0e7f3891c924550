package client

import (
	"sync"
	"time"

	"github.com/majid78715/Jira-V1-sub001/internal/audio"
)

const (
	ringPulseSeconds = 0.8
	ringPeriod       = 2 * time.Second
)

// ToneSink consumes synthesized PCM for playback. Playback itself lives in
// the UI layer; a nil sink discards pulses.
type ToneSink func(samples []int16)

// RingTone emits a periodic synthesized tone pulse while ringing.
type RingTone struct {
	sink ToneSink

	mu   sync.Mutex
	stop chan struct{}
}

func NewRingTone(sink ToneSink) *RingTone {
	return &RingTone{sink: sink}
}

func (r *RingTone) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		return
	}
	stop := make(chan struct{})
	r.stop = stop
	go r.loop(stop)
}

func (r *RingTone) loop(stop chan struct{}) {
	pulse := audio.RingPulse(ringPulseSeconds)
	r.emit(pulse)
	ticker := time.NewTicker(ringPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.emit(pulse)
		}
	}
}

func (r *RingTone) emit(pulse []int16) {
	if r.sink != nil {
		r.sink(pulse)
	}
}

// Stop is idempotent.
func (r *RingTone) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop == nil {
		return
	}
	close(r.stop)
	r.stop = nil
}
