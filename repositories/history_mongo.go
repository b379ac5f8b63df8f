package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"crimson-pen/apperrors"
	"crimson-pen/models"
)

const historyDocID = "history"

// MongoHistoryBackend keeps the whole history in one document of the
// "history" collection so a save stays a single atomic replace.
type MongoHistoryBackend struct {
	col *mongo.Collection
}

func NewMongoHistoryBackend(db *mongo.Database) *MongoHistoryBackend {
	return &MongoHistoryBackend{col: db.Collection("history")}
}

func (b *MongoHistoryBackend) Location() string {
	return fmt.Sprintf("mongo:%s.%s/%s", b.col.Database().Name(), b.col.Name(), historyDocID)
}

type historyDoc struct {
	ID        string           `bson:"_id"`
	Records   []map[string]any `bson:"records"`
	UpdatedAt time.Time        `bson:"updated_at"`
}

func (b *MongoHistoryBackend) Read(ctx context.Context) (models.History, error) {
	var raw bson.M
	err := b.col.FindOne(ctx, bson.M{"_id": historyDocID}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history document: %w", err)
	}
	return historyFromDocument(raw, b.Location())
}

func (b *MongoHistoryBackend) Write(ctx context.Context, h models.History) error {
	doc := historyDoc{
		ID:        historyDocID,
		Records:   h.Views(),
		UpdatedAt: time.Now().UTC(),
	}
	_, err := b.col.ReplaceOne(ctx, bson.M{"_id": historyDocID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("replace history document: %w", err)
	}
	return nil
}

// historyFromDocument converts a decoded history document into records.
func historyFromDocument(raw bson.M, location string) (models.History, error) {
	items, ok := normalizeBSON(raw["records"]).([]any)
	if !ok {
		return nil, apperrors.StoreCorrupt(location, fmt.Errorf("records is %T, want array", raw["records"]))
	}
	h := make(models.History, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, apperrors.StoreCorrupt(location, fmt.Errorf("record %d is %T, want document", i, item))
		}
		rec := models.RecordFromMap(m)
		if rec.Date == "" {
			return nil, apperrors.StoreCorrupt(location, fmt.Errorf("record %d has no date", i))
		}
		h = append(h, rec)
	}
	return h, nil
}

// normalizeBSON turns driver container types into the plain map/slice shapes
// that JSON decoding produces, so templates see one representation.
func normalizeBSON(v any) any {
	switch t := v.(type) {
	case primitive.M:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeBSON(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeBSON(val)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalizeBSON(e.Value)
		}
		return out
	case primitive.A:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeBSON(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeBSON(val)
		}
		return out
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339)
	default:
		return v
	}
}
