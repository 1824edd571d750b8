package models

import "time"

// ChunkStatus is the processing outcome recorded for a forwarded frame.
type ChunkStatus string

const (
	ChunkForwarded ChunkStatus = "forwarded"
	ChunkFailed    ChunkStatus = "error"
)

// AudioChunkRecord is the stored copy of one audio frame, kept for replay
// and debugging.
type AudioChunkRecord struct {
	ID               string      `bson:"_id" json:"id"`
	SessionID        string      `bson:"session_id" json:"sessionId"`
	ChunkSequence    int64       `bson:"chunk_sequence" json:"chunkSequence"`
	AudioData        []byte      `bson:"audio_data,omitempty" json:"audioData,omitempty"`
	Language         string      `bson:"language,omitempty" json:"language,omitempty"`
	DurationMs       int         `bson:"duration_ms" json:"durationMs"`
	ProcessingStatus ChunkStatus `bson:"processing_status" json:"processingStatus"`
	CreatedAt        time.Time   `bson:"created_at" json:"createdAt"`
}
