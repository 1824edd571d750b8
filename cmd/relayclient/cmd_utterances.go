package main

import (
	"context"
	"encoding/json"
	"errors"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"

	"meeting-translation-relay/internal/events"
	"meeting-translation-relay/internal/models"
)

func newUtterancesCommand() *cobra.Command {
	var (
		brokers   string
		topic     string
		group     string
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "utterances",
		Short: "Tail completed utterances from Kafka",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := kafka.ReaderConfig{
				Brokers:     strings.Split(brokers, ","),
				Topic:       topic,
				StartOffset: kafka.LastOffset,
			}
			if group != "" {
				cfg.GroupID = group
			}
			r := kafka.NewReader(cfg)
			defer r.Close()

			log.Info().Str("topic", topic).Str("brokers", brokers).Msg("Tailing utterances")
			for {
				msg, err := r.ReadMessage(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				if err != nil {
					return err
				}
				var u models.TranslationUtterance
				if err := json.Unmarshal(msg.Value, &u); err != nil {
					log.Warn().Err(err).Msg("Skipping malformed utterance")
					continue
				}
				if sessionID != "" && u.SessionID != sessionID {
					continue
				}
				log.Info().
					Str("sessionId", u.SessionID).
					Str("source", u.SourceText).
					Str("translated", u.TranslatedText).
					Float64("confidence", u.ConfidenceScore).
					Msg("utterance")
			}
		},
	}
	cmd.Flags().StringVar(&brokers, "brokers", "localhost:9092", "Comma separated Kafka brokers")
	cmd.Flags().StringVar(&topic, "topic", events.EventUtteranceCompleted, "Utterance topic")
	cmd.Flags().StringVar(&group, "group", "", "Consumer group (optional)")
	cmd.Flags().StringVar(&sessionID, "session", "", "Only show this session")
	return cmd
}
