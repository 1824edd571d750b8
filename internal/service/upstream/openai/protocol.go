package openai

import (
	"encoding/json"
	"fmt"

	"meeting-translation-relay/internal/service/upstream"
)

// Instructions builds the system instructions for a language pair.
func Instructions(source, target string) string {
	return fmt.Sprintf("You are a real-time meeting translator. "+
		"Translate speech from %s to %s. "+
		"Maintain the speaker's tone, intent, and meaning. "+
		"Provide only the translation without commentary. "+
		"Be natural and conversational in your translations.", source, target)
}

var logTranslationTool = map[string]any{
	"type":        "function",
	"name":        logToolName,
	"description": "Log the translation for analytics",
	"parameters": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"original_text":   map[string]any{"type": "string"},
			"translated_text": map[string]any{"type": "string"},
			"confidence":      map[string]any{"type": "number"},
		},
		"required": []string{"original_text", "translated_text"},
	},
}

// sessionUpdate builds a session.update message. The full form is the
// handshake; the partial form only carries the fields a live update may change.
func sessionUpdate(h Handshake, cfg upstream.SessionConfig, full bool) map[string]any {
	session := map[string]any{
		"instructions": Instructions(cfg.SourceLanguage, cfg.TargetLanguage),
	}
	if cfg.VoiceID != "" {
		session["voice"] = cfg.VoiceID
	}
	if full {
		if _, ok := session["voice"]; !ok {
			session["voice"] = h.Voice
		}
		session["modalities"] = []string{"text", "audio"}
		session["input_audio_format"] = "pcm16"
		session["output_audio_format"] = "pcm16"
		session["input_audio_transcription"] = map[string]any{"model": h.TranscriptionModel}
		session["turn_detection"] = map[string]any{
			"type":                "server_vad",
			"threshold":           h.VADThreshold,
			"prefix_padding_ms":   h.PrefixPaddingMs,
			"silence_duration_ms": h.SilenceDurationMs,
		}
		session["tools"] = []any{logTranslationTool}
		session["tool_choice"] = "auto"
		session["temperature"] = h.Temperature
		session["max_response_output_tokens"] = "inf"
	}
	return map[string]any{
		"type":    "session.update",
		"session": session,
	}
}

type serverEvent struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	Response   *responseRef `json:"response"`
	Error      *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

type responseRef struct {
	ID string `json:"id"`
}

type logTranslationArgs struct {
	OriginalText   string   `json:"original_text"`
	TranslatedText string   `json:"translated_text"`
	Confidence     *float64 `json:"confidence"`
}

// parseEvent maps one realtime server event onto the upstream vocabulary.
func parseEvent(data []byte) (upstream.Event, error) {
	var ev serverEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode server event: %w", err)
	}
	raw := json.RawMessage(append([]byte(nil), data...))

	switch ev.Type {
	case "session.created":
		return upstream.Ready{}, nil
	case "input_audio_buffer.committed":
		return upstream.InputCommitted{ItemID: ev.ItemID, Raw: raw}, nil
	case "response.created":
		id := ev.ResponseID
		if ev.Response != nil && ev.Response.ID != "" {
			id = ev.Response.ID
		}
		return upstream.ResponseStarted{ResponseID: id, Raw: raw}, nil
	case "response.audio.delta":
		return upstream.AudioDelta{Audio: ev.Delta}, nil
	case "response.audio_transcript.delta":
		return upstream.TranscriptDelta{Text: ev.Delta, ResponseID: ev.ResponseID}, nil
	case "response.audio.done":
		return upstream.TurnComplete{ResponseID: ev.ResponseID}, nil
	case "conversation.item.input_audio_transcription.completed":
		return upstream.SourceTranscript{ItemID: ev.ItemID, Text: ev.Transcript, Raw: raw}, nil
	case "response.function_call_arguments.done":
		if ev.Name != logToolName {
			return upstream.Unrecognized{Type: ev.Type, Raw: raw}, nil
		}
		var args logTranslationArgs
		if err := json.Unmarshal([]byte(ev.Arguments), &args); err != nil {
			return nil, fmt.Errorf("decode %s arguments: %w", logToolName, err)
		}
		u := upstream.ToolUtterance{
			ResponseID:     ev.ResponseID,
			SourceText:     args.OriginalText,
			TranslatedText: args.TranslatedText,
			Raw:            raw,
		}
		if args.Confidence != nil {
			u.Confidence = *args.Confidence
		}
		return u, nil
	case "error":
		msg := "Translation error"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		return upstream.RuntimeError{Message: msg}, nil
	default:
		return upstream.Unrecognized{Type: ev.Type, Raw: raw}, nil
	}
}
