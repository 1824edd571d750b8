package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// wavHeaderSize is the canonical PCM header length.
const wavHeaderSize = 44

type wavFormat struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// bytesPerMs is the PCM byte rate per millisecond of audio.
func (f wavFormat) bytesPerMs() int {
	return int(f.SampleRate) * int(f.Channels) * int(f.BitsPerSample) / 8 / 1000
}

func readWAVHeader(r io.Reader) (wavFormat, error) {
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return wavFormat{}, fmt.Errorf("read WAV header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return wavFormat{}, errors.New("not a valid WAV file")
	}
	f := wavFormat{
		AudioFormat:   binary.LittleEndian.Uint16(header[20:22]),
		Channels:      binary.LittleEndian.Uint16(header[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(header[24:28]),
		BitsPerSample: binary.LittleEndian.Uint16(header[34:36]),
	}
	if f.AudioFormat != 1 {
		return f, fmt.Errorf("only PCM WAV is supported, got format %d", f.AudioFormat)
	}
	if f.bytesPerMs() == 0 {
		return f, fmt.Errorf("unsupported WAV layout %+v", f)
	}
	return f, nil
}
