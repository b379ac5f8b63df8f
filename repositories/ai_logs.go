package repositories

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"crimson-pen/models"
)

type AILogRepository struct {
	col *mongo.Collection
}

func NewAILogRepository(db *mongo.Database) *AILogRepository {
	return &AILogRepository{col: db.Collection("ai_logs")}
}

func (r *AILogRepository) Insert(ctx context.Context, log models.AILog) (*mongo.InsertOneResult, error) {
	if log.RequestedAt.IsZero() {
		log.RequestedAt = time.Now()
	}
	return r.col.InsertOne(ctx, log)
}

// Record inserts one attempt row; it satisfies orchestrator.AttemptLog.
func (r *AILogRepository) Record(ctx context.Context, log models.AILog) error {
	_, err := r.Insert(ctx, log)
	return err
}

// ListByRun returns the attempts of one run in attempt order.
func (r *AILogRepository) ListByRun(ctx context.Context, runID string) ([]models.AILog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "requested_at", Value: 1}, {Key: "attempt", Value: 1}})
	cur, err := r.col.Find(ctx, bson.M{"run_id": runID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var logs []models.AILog
	if err := cur.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}
