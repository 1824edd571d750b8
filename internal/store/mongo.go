package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"meeting-translation-relay/internal/models"
)

const (
	SessionsCollection    = "translation_sessions"
	UtterancesCollection  = "translation_logs"
	AudioChunksCollection = "audio_chunks"
)

// collection is the subset of *mongo.Collection the store uses.
type collection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// Mongo is a Store backed by MongoDB.
type Mongo struct {
	client     *mongo.Client
	sessions   collection
	utterances collection
	chunks     collection
	now        func() time.Time
}

// NewMongo connects to uri and verifies the connection.
func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(database)
	log.Info().Str("database", database).Msg("Connected to MongoDB")
	return &Mongo{
		client:     client,
		sessions:   db.Collection(SessionsCollection),
		utterances: db.Collection(UtterancesCollection),
		chunks:     db.Collection(AudioChunksCollection),
		now:        time.Now,
	}, nil
}

func (m *Mongo) Get(ctx context.Context, id string) (*models.Session, error) {
	var s models.Session
	err := m.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session %s: %w", id, err)
	}
	return &s, nil
}

func (m *Mongo) Upsert(ctx context.Context, s *models.Session) error {
	cp := *s
	now := m.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	_, err := m.sessions.ReplaceOne(ctx, bson.M{"_id": s.ID}, cp, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", s.ID, err)
	}
	return nil
}

func (m *Mongo) Update(ctx context.Context, id string, u models.SessionUpdate) error {
	res, err := m.sessions.UpdateOne(ctx, bson.M{"_id": id}, updateDocument(u, m.now()))
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) InsertUtterance(ctx context.Context, u models.TranslationUtterance) error {
	if _, err := m.utterances.InsertOne(ctx, u); err != nil {
		return fmt.Errorf("insert utterance %s: %w", u.ID, err)
	}
	return nil
}

func (m *Mongo) InsertAudioChunk(ctx context.Context, c models.AudioChunkRecord) error {
	if _, err := m.chunks.InsertOne(ctx, c); err != nil {
		return fmt.Errorf("insert audio chunk %s/%d: %w", c.SessionID, c.ChunkSequence, err)
	}
	return nil
}

func (m *Mongo) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}

// updateDocument builds the $set/$unset document for u.
func updateDocument(u models.SessionUpdate, now time.Time) bson.M {
	set := bson.M{"updated_at": now}
	if u.Status != nil {
		set["status"] = *u.Status
	}
	if u.AudioProcessingActive != nil {
		set["audio_processing_active"] = *u.AudioProcessingActive
	}
	if u.ErrorMessage != nil {
		set["error_message"] = *u.ErrorMessage
	}
	if u.SourceLanguage != nil {
		set["source_language"] = *u.SourceLanguage
	}
	if u.TargetLanguage != nil {
		set["target_language"] = *u.TargetLanguage
	}
	if u.VoiceID != nil {
		set["voice_id"] = *u.VoiceID
	}
	if u.StartedAt != nil {
		set["started_at"] = *u.StartedAt
	}
	if u.EndedAt != nil {
		set["ended_at"] = *u.EndedAt
	}

	doc := bson.M{"$set": set}
	if u.ClearEndedAt && u.EndedAt == nil {
		doc["$unset"] = bson.M{"ended_at": ""}
	}
	return doc
}
