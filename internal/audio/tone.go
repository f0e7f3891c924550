// Package audio holds the small PCM helpers the call subsystem needs: the
// signaling channel relays base64 PCM16 mono 16kHz chunks, and the client
// synthesizes its ring tone instead of shipping an asset.
package audio

import (
	"encoding/binary"
	"math"
)

const (
	SampleRate    = 16000
	RingFrequency = 440.0
	RingAmplitude = 16000
)

// SineWave produces a sine wave at the given frequency and duration as
// 16kHz mono int16 PCM samples.
func SineWave(durationSec, frequency float64) []int16 {
	return SineWaveRate(SampleRate, durationSec, frequency)
}

// SineWaveRate synthesizes at an explicit sample rate. Tracks that carry
// 8kHz codecs must generate at 8000 or the tone plays an octave low.
func SineWaveRate(sampleRate int, durationSec, frequency float64) []int16 {
	numSamples := int(durationSec * float64(sampleRate))
	samples := make([]int16, numSamples)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		samples[i] = int16(RingAmplitude * math.Sin(2*math.Pi*frequency*t))
	}
	return samples
}

// RingPulse is one burst of the synthesized ring tone.
func RingPulse(durationSec float64) []int16 {
	return SineWave(durationSec, RingFrequency)
}

// PCM16Bytes serializes samples as little-endian s16, the wire layout of
// audio chunks.
func PCM16Bytes(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}
