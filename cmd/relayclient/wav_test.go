package main

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func wavHeader(format uint16, channels uint16, rate uint32, bits uint16) []byte {
	h := make([]byte, wavHeaderSize)
	copy(h[0:4], "RIFF")
	copy(h[8:12], "WAVE")
	binary.LittleEndian.PutUint16(h[20:22], format)
	binary.LittleEndian.PutUint16(h[22:24], channels)
	binary.LittleEndian.PutUint32(h[24:28], rate)
	binary.LittleEndian.PutUint16(h[34:36], bits)
	return h
}

func TestReadWAVHeader(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		wantErr   bool
		wantPerMs int
	}{
		{"pcm 24k mono", wavHeader(1, 1, 24000, 16), false, 48},
		{"pcm 8k mono", wavHeader(1, 1, 8000, 16), false, 16},
		{"not pcm", wavHeader(3, 1, 24000, 32), true, 0},
		{"not riff", append([]byte("JUNK"), make([]byte, 40)...), true, 0},
		{"short", []byte("RIFF"), true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := readWAVHeader(bytes.NewReader(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("readWAVHeader: %v", err)
			}
			if got := f.bytesPerMs(); got != tt.wantPerMs {
				t.Errorf("bytesPerMs = %d, want %d", got, tt.wantPerMs)
			}
		})
	}
}
