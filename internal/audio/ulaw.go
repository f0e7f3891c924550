package audio

// G.711 µ-law companding, used to payload the synthesized capture track.

const ulawBias = 0x84

// LinearToUlaw converts one 16-bit linear PCM sample to µ-law.
func LinearToUlaw(sample int16) byte {
	sign := byte(0)
	s := int(sample)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > 32635 {
		s = 32635
	}
	s += ulawBias

	exponent := 7
	for mask := 0x4000; exponent > 0 && s&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := (s >> uint(exponent+3)) & 0x0F
	return ^(sign | byte(exponent<<4) | byte(mantissa))
}

// PCM16ToUlaw encodes a block of linear samples.
func PCM16ToUlaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = LinearToUlaw(s)
	}
	return out
}
