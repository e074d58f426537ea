package audio

import (
	"math"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSamples  = 320              // samples per 20ms frame at 16kHz mono
	FrameBytes    = FrameSamples * 2 // bytes per frame (int16 = 2 bytes)
)

// RMS returns the root-mean-square level of a PCM frame.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// NormalizeRMS maps an RMS level to [0,1] against full-scale int16.
func NormalizeRMS(rms float64) float64 {
	n := rms / 32768.0
	if n > 1 {
		n = 1
	}
	return n
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(uint16(s) >> 8)
	}
	return buf
}

// BytesToSamples converts little-endian bytes to int16 samples.
// A trailing odd byte is dropped.
func BytesToSamples(buf []byte) []int16 {
	samples := make([]int16, len(buf)/2)
	for i := range samples {
		samples[i] = int16(uint16(buf[i*2]) | uint16(buf[i*2+1])<<8)
	}
	return samples
}

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Used to ease waveform bar levels so the display doesn't flicker.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}
