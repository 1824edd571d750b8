package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"meeting-translation-relay/internal/models"
)

// fakeCollection records calls and returns canned results.
type fakeCollection struct {
	findDoc    interface{}
	findErr    error
	matched    int64
	updateErr  error
	lastFilter interface{}
	lastUpdate interface{}
	replaced   interface{}
	inserted   []interface{}
	insertErr  error
}

func (f *fakeCollection) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult {
	f.lastFilter = filter
	doc := f.findDoc
	if doc == nil {
		doc = bson.D{}
	}
	return mongo.NewSingleResultFromDocument(doc, f.findErr, nil)
}

func (f *fakeCollection) ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error) {
	f.lastFilter = filter
	f.replaced = replacement
	return &mongo.UpdateResult{MatchedCount: f.matched, UpsertedCount: 1}, f.updateErr
}

func (f *fakeCollection) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	f.lastFilter = filter
	f.lastUpdate = update
	return &mongo.UpdateResult{MatchedCount: f.matched}, f.updateErr
}

func (f *fakeCollection) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	f.inserted = append(f.inserted, document)
	return &mongo.InsertOneResult{}, f.insertErr
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestMongo(sessions, utterances *fakeCollection) *Mongo {
	return &Mongo{sessions: sessions, utterances: utterances, chunks: &fakeCollection{}, now: func() time.Time { return fixedNow }}
}

func TestMongo_GetNotFound(t *testing.T) {
	m := newTestMongo(&fakeCollection{findErr: mongo.ErrNoDocuments}, &fakeCollection{})
	if _, err := m.Get(context.Background(), "s-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMongo_GetDecodes(t *testing.T) {
	sessions := &fakeCollection{findDoc: bson.M{
		"_id":             "s-1",
		"platform":        "meet",
		"source_language": "en",
		"target_language": "ja",
		"status":          "active",
	}}
	m := newTestMongo(sessions, &fakeCollection{})

	s, err := m.Get(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ID != "s-1" || s.Platform != models.PlatformMeet || s.TargetLanguage != "ja" || s.Status != models.StatusActive {
		t.Errorf("unexpected session %+v", s)
	}
	if f, ok := sessions.lastFilter.(bson.M); !ok || f["_id"] != "s-1" {
		t.Errorf("unexpected filter %v", sessions.lastFilter)
	}
}

func TestMongo_UpdateNoMatch(t *testing.T) {
	m := newTestMongo(&fakeCollection{matched: 0}, &fakeCollection{})
	err := m.Update(context.Background(), "s-1", models.SessionUpdate{Status: models.Ptr(models.StatusActive)})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMongo_UpsertSetsTimestamps(t *testing.T) {
	sessions := &fakeCollection{}
	m := newTestMongo(sessions, &fakeCollection{})

	if err := m.Upsert(context.Background(), &models.Session{ID: "s-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := sessions.replaced.(models.Session)
	if !got.CreatedAt.Equal(fixedNow) || !got.UpdatedAt.Equal(fixedNow) {
		t.Errorf("expected timestamps %v, got %+v", fixedNow, got)
	}
}

func TestMongo_InsertUtterance(t *testing.T) {
	utterances := &fakeCollection{}
	m := newTestMongo(&fakeCollection{}, utterances)

	m.InsertUtterance(context.Background(), models.TranslationUtterance{ID: "u-1"})
	if len(utterances.inserted) != 1 {
		t.Errorf("expected 1 insert, got %d", len(utterances.inserted))
	}
}

func TestMongo_InsertAudioChunk(t *testing.T) {
	chunks := &fakeCollection{}
	m := newTestMongo(&fakeCollection{}, &fakeCollection{})
	m.chunks = chunks

	rec := models.AudioChunkRecord{ID: "c-1", SessionID: "s-1", ChunkSequence: 7, ProcessingStatus: models.ChunkForwarded}
	if err := m.InsertAudioChunk(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks.inserted) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(chunks.inserted))
	}
	if got := chunks.inserted[0].(models.AudioChunkRecord); got.ChunkSequence != 7 {
		t.Errorf("expected chunk 7, got %d", got.ChunkSequence)
	}

	chunks.insertErr = errors.New("write conflict")
	err := m.InsertAudioChunk(context.Background(), rec)
	if err == nil || !errors.Is(err, chunks.insertErr) {
		t.Errorf("expected wrapped insert error, got %v", err)
	}
}

func TestUpdateDocument(t *testing.T) {
	ended := fixedNow.Add(time.Minute)
	tests := []struct {
		name      string
		update    models.SessionUpdate
		wantSet   bson.M
		wantUnset bool
	}{
		{
			name:    "status only",
			update:  models.SessionUpdate{Status: models.Ptr(models.StatusActive), AudioProcessingActive: models.Ptr(true)},
			wantSet: bson.M{"updated_at": fixedNow, "status": models.StatusActive, "audio_processing_active": true},
		},
		{
			name:    "stop",
			update:  models.SessionUpdate{Status: models.Ptr(models.StatusDisconnected), EndedAt: &ended},
			wantSet: bson.M{"updated_at": fixedNow, "status": models.StatusDisconnected, "ended_at": ended},
		},
		{
			name:      "restart clears ended at",
			update:    models.SessionUpdate{Status: models.Ptr(models.StatusConnecting), ErrorMessage: models.Ptr(""), ClearEndedAt: true},
			wantSet:   bson.M{"updated_at": fixedNow, "status": models.StatusConnecting, "error_message": ""},
			wantUnset: true,
		},
		{
			name:    "languages",
			update:  models.SessionUpdate{SourceLanguage: models.Ptr("en"), TargetLanguage: models.Ptr("fr"), VoiceID: models.Ptr("verse")},
			wantSet: bson.M{"updated_at": fixedNow, "source_language": "en", "target_language": "fr", "voice_id": "verse"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := updateDocument(tt.update, fixedNow)
			set := doc["$set"].(bson.M)
			if len(set) != len(tt.wantSet) {
				t.Errorf("expected %d fields in $set, got %v", len(tt.wantSet), set)
			}
			for k, v := range tt.wantSet {
				if set[k] != v {
					t.Errorf("$set[%s] = %v, want %v", k, set[k], v)
				}
			}
			_, hasUnset := doc["$unset"]
			if hasUnset != tt.wantUnset {
				t.Errorf("expected $unset present=%v, got %v", tt.wantUnset, hasUnset)
			}
		})
	}
}
