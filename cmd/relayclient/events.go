package main

import (
	"github.com/rs/zerolog/log"

	"meeting-translation-relay/internal/models"
)

func logEvent(ev map[string]any) {
	kind, _ := ev["type"].(string)
	switch kind {
	case models.EventTranslatedAudioDelta:
		audio, _ := ev["audio"].(string)
		log.Debug().Int("base64Bytes", len(audio)).Msg("translated audio")
	case models.EventTranscriptDelta:
		log.Info().Interface("text", ev["text"]).Msg("transcript")
	case models.EventError, models.EventTranslationError:
		log.Warn().Interface("code", ev["code"]).Interface("message", ev["message"]).Msg(kind)
	default:
		log.Info().Interface("event", ev).Msg(kind)
	}
}
