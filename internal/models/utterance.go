package models

import "time"

// TranslationUtterance is one completed source to target translation.
// The language pair is a snapshot taken when the turn completed.
type TranslationUtterance struct {
	ID               string    `bson:"_id" json:"id"`
	EventType        string    `bson:"-" json:"eventType"`
	SessionID        string    `bson:"session_id" json:"sessionId"`
	SourceText       string    `bson:"source_text" json:"sourceText"`
	TranslatedText   string    `bson:"translated_text" json:"translatedText"`
	SourceLanguage   string    `bson:"source_language" json:"sourceLanguage"`
	TargetLanguage   string    `bson:"target_language" json:"targetLanguage"`
	ConfidenceScore  float64   `bson:"confidence_score" json:"confidenceScore"`
	ProcessingTimeMs int64     `bson:"processing_time_ms" json:"processingTimeMs"`
	ModelUsed        string    `bson:"model_used" json:"modelUsed"`
	CreatedAt        time.Time `bson:"created_at" json:"createdAt"`
}

// Complete reports whether both the source and the translated text are present.
func (u TranslationUtterance) Complete() bool {
	return u.SourceText != "" && u.TranslatedText != ""
}
