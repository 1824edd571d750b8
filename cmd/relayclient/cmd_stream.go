package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"meeting-translation-relay/internal/models"
)

func newStreamCommand() *cobra.Command {
	var (
		f        connFlags
		chunkMs  int
		language string
		linger   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "stream <file.wav>",
		Short: "Stream a PCM WAV file into a session in real time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd.Context(), f, args[0], chunkMs, language, linger)
		},
	}
	addConnFlags(cmd, &f)
	cmd.Flags().IntVar(&chunkMs, "chunk-ms", 100, "Audio per frame in milliseconds")
	cmd.Flags().StringVar(&language, "language", "", "Language tag sent with each frame")
	cmd.Flags().DurationVar(&linger, "linger", 5*time.Second, "How long to keep listening after the file ends")
	return cmd
}

func runStream(ctx context.Context, f connFlags, path string, chunkMs int, language string, linger time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()

	format, err := readWAVHeader(file)
	if err != nil {
		return err
	}
	log.Info().
		Uint32("sampleRate", format.SampleRate).
		Uint16("channels", format.Channels).
		Uint16("bitsPerSample", format.BitsPerSample).
		Msg("WAV file")
	if format.SampleRate != 24000 {
		log.Warn().Uint32("sampleRate", format.SampleRate).Msg("Relay expects 24kHz PCM16")
	}

	conn, err := dial(ctx, f)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	go printEvents(conn, done)

	if err := conn.Send(map[string]any{"type": models.CommandInitialize, "sessionId": f.sessionID}); err != nil {
		return fmt.Errorf("send initialize: %w", err)
	}

	chunk := make([]byte, format.bytesPerMs()*chunkMs)
	var seq int64
	var total int
	start := time.Now()
	for {
		n, err := io.ReadFull(file, chunk)
		if n > 0 {
			seq++
			total += n
			msg := map[string]any{
				"type":           models.CommandAudioChunk,
				"audioData":      base64.StdEncoding.EncodeToString(chunk[:n]),
				"sequenceNumber": seq,
				"durationMs":     n / format.bytesPerMs(),
			}
			if language != "" {
				msg["language"] = language
			}
			if err := conn.Send(msg); err != nil {
				return fmt.Errorf("send frame %d: %w", seq, err)
			}
			if seq%10 == 0 {
				log.Debug().Int64("seq", seq).Int("bytes", total).Msg("Sent frames")
			}
			time.Sleep(time.Duration(chunkMs) * time.Millisecond)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read audio: %w", err)
		}
	}
	log.Info().Int64("frames", seq).Int("bytes", total).Dur("elapsed", time.Since(start)).Msg("Finished streaming")

	select {
	case <-time.After(linger):
	case <-done:
		return nil
	}
	if err := conn.Send(map[string]any{"type": models.CommandStop}); err != nil {
		return fmt.Errorf("send stop: %w", err)
	}
	select {
	case <-time.After(time.Second):
	case <-done:
	}
	return nil
}
