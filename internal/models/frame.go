package models

import "time"

// AudioFrame is one discrete chunk of captured audio.
type AudioFrame struct {
	SequenceNumber int64
	Payload        []byte
	Timestamp      time.Time
	DurationMs     int
	Language       string
}
