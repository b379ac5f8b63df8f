package repositories

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"

	"crimson-pen/apperrors"
	"crimson-pen/config"
	"crimson-pen/models"
)

// HistoryBackend reads and replaces the whole persisted history.
// A missing history is reported as (nil, nil); an unparsable one as an
// error of kind store_corrupt.
type HistoryBackend interface {
	Read(ctx context.Context) (models.History, error)
	Write(ctx context.Context, h models.History) error
	Location() string
}

// HistoryStore owns load/merge/save of the date-keyed history.
// Single writer per run; use pipeline.RunLock for cross-process exclusion.
type HistoryStore struct {
	backend    HistoryBackend
	maxEntries int
}

func NewHistoryStore(backend HistoryBackend, maxEntries int) *HistoryStore {
	if maxEntries <= 0 {
		maxEntries = models.DefaultMaxEntries
	}
	return &HistoryStore{backend: backend, maxEntries: maxEntries}
}

func (s *HistoryStore) MaxEntries() int { return s.maxEntries }

// Load returns the persisted history. A missing store yields an empty history;
// a corrupt one yields an empty history plus a store_corrupt diagnostic.
// Only genuine I/O failures are returned as errors.
func (s *HistoryStore) Load(ctx context.Context) (models.History, []*apperrors.Error, error) {
	h, err := s.backend.Read(ctx)
	if err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) && appErr.Kind == apperrors.KindStoreCorrupt {
			config.WarnWithFields("history unparsable, starting empty", config.Fields{
				"location": s.backend.Location(),
				"error":    err.Error(),
			})
			return models.History{}, []*apperrors.Error{appErr}, nil
		}
		return nil, nil, err
	}
	if h == nil {
		h = models.History{}
	}
	return h, nil, nil
}

// Upsert merges rec into h without modifying h.
func (s *HistoryStore) Upsert(h models.History, rec models.Record) models.History {
	return h.Upsert(rec, s.maxEntries)
}

// Save fully replaces the persisted history, bounded to MaxEntries.
func (s *HistoryStore) Save(ctx context.Context, h models.History) error {
	if h == nil {
		h = models.History{}
	}
	return s.backend.Write(ctx, h.Truncate(s.maxEntries))
}

// NewHistoryBackend selects the backend named by history.backend.
// The mongo backend requires db.Init to have been called.
func NewHistoryBackend(cfg config.HistoryConfig, mongoDB *mongo.Database) (HistoryBackend, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileHistoryBackend(cfg.Path), nil
	case "mongo":
		if mongoDB == nil {
			return nil, apperrors.ConfigInvalid("history.backend", "mongo backend selected but no database connected")
		}
		return NewMongoHistoryBackend(mongoDB), nil
	default:
		return nil, apperrors.ConfigInvalid("history.backend", "must be file or mongo")
	}
}
