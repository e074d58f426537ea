package audio

import (
	"bytes"
	"encoding/binary"
	"io"
)

// WriteWAV writes a minimal RIFF/WAVE file around raw PCM samples at the
// package sample rate and channel count.
func WriteWAV(w io.Writer, samples []int16) error {
	dataLen := uint32(len(samples) * 2)
	byteRate := uint32(SampleRate * Channels * BitDepth / 8)
	blockAlign := uint16(Channels * BitDepth / 8)

	var hdr bytes.Buffer
	hdr.WriteString("RIFF")
	binary.Write(&hdr, binary.LittleEndian, uint32(36+dataLen))
	hdr.WriteString("WAVE")
	hdr.WriteString("fmt ")
	binary.Write(&hdr, binary.LittleEndian, uint32(16))
	binary.Write(&hdr, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&hdr, binary.LittleEndian, uint16(Channels))
	binary.Write(&hdr, binary.LittleEndian, uint32(SampleRate))
	binary.Write(&hdr, binary.LittleEndian, byteRate)
	binary.Write(&hdr, binary.LittleEndian, blockAlign)
	binary.Write(&hdr, binary.LittleEndian, uint16(BitDepth))
	hdr.WriteString("data")
	binary.Write(&hdr, binary.LittleEndian, dataLen)

	if _, err := w.Write(hdr.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(SamplesToBytes(samples))
	return err
}

// WAVBytes returns a complete in-memory WAV file for the given samples.
func WAVBytes(samples []int16) []byte {
	var buf bytes.Buffer
	WriteWAV(&buf, samples)
	return buf.Bytes()
}
