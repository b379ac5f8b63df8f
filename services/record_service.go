package services

import (
	"context"
	"errors"

	"crimson-pen/dto"
	"crimson-pen/repositories"
)

var ErrNotFound = errors.New("not found")

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// RecordService serves the published history to API consumers.
type RecordService struct {
	store        *repositories.HistoryStore
	permalinkDir string
}

func NewRecordService(store *repositories.HistoryStore, permalinkDir string) *RecordService {
	return &RecordService{store: store, permalinkDir: permalinkDir}
}

type ListRecordsInput struct {
	Page     int
	PageSize int
}

// List returns one page of the history, newest first.
func (s *RecordService) List(ctx context.Context, in ListRecordsInput) (dto.Pagination[dto.RecordDTO], error) {
	page, size := in.Page, in.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	h, _, err := s.store.Load(ctx)
	if err != nil {
		return dto.Pagination[dto.RecordDTO]{}, err
	}

	out := dto.Pagination[dto.RecordDTO]{
		Data:     []dto.RecordDTO{},
		Page:     page,
		PageSize: size,
		Total:    int64(len(h)),
	}
	start := (page - 1) * size
	if start >= len(h) {
		return out, nil
	}
	end := min(start+size, len(h))
	for _, r := range h[start:end] {
		out.Data = append(out.Data, dto.NewRecordDTO(r, s.permalinkDir))
	}
	return out, nil
}

// GetByDate returns the record published for date (YYYY-MM-DD).
func (s *RecordService) GetByDate(ctx context.Context, date string) (*dto.RecordDTO, error) {
	h, _, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	r, ok := h.Find(date)
	if !ok {
		return nil, ErrNotFound
	}
	d := dto.NewRecordDTO(r, s.permalinkDir)
	return &d, nil
}

// AttemptService exposes generation attempt logs by run.
type AttemptService struct {
	repo *repositories.AILogRepository
}

func NewAttemptService(repo *repositories.AILogRepository) *AttemptService {
	return &AttemptService{repo: repo}
}

func (s *AttemptService) ListByRun(ctx context.Context, runID string) ([]dto.AttemptDTO, error) {
	logs, err := s.repo.ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := make([]dto.AttemptDTO, 0, len(logs))
	for _, l := range logs {
		out = append(out, dto.NewAttemptDTO(l))
	}
	return out, nil
}
