package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"plate-search-service/internal/domain/anpr"
)

var ErrNotFound = errors.New("record not found")

const maxListLimit = 100

type SearchRepository struct {
	db *gorm.DB
}

func NewSearchRepository(db *gorm.DB) *SearchRepository {
	return &SearchRepository{db: db}
}

type Search struct {
	ID              uuid.UUID                   `gorm:"type:uuid;primaryKey"`
	TargetPlate     string                      `gorm:"not null"`
	Threshold       float64                     `gorm:"not null"`
	Variations      datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	Status          string                      `gorm:"not null"`
	Total           int                         `gorm:"not null"`
	FramesRead      int                         `gorm:"not null"`
	FramesEvaluated int                         `gorm:"not null"`
	ErrorMessage    *string
	StartedAt       time.Time `gorm:"not null"`
	FinishedAt      *time.Time
	CreatedAt       time.Time
}

func (Search) TableName() string {
	return "searches"
}

type SearchDetection struct {
	ID               int64     `gorm:"primaryKey"`
	SearchID         uuid.UUID `gorm:"type:uuid;not null"`
	Frame            int       `gorm:"not null"`
	BoxX1            int       `gorm:"column:box_x1"`
	BoxY1            int       `gorm:"column:box_y1"`
	BoxX2            int       `gorm:"column:box_x2"`
	BoxY2            int       `gorm:"column:box_y2"`
	RawText          string    `gorm:"not null"`
	CleanedText      string    `gorm:"not null"`
	MatchedVariation string    `gorm:"not null"`
	Similarity       float64   `gorm:"not null"`
	Confidence       float64   `gorm:"not null"`
	FrameRef         *string
	CropRef          *string
	DetectedAt       time.Time `gorm:"not null"`
	CreatedAt        time.Time
}

func (SearchDetection) TableName() string {
	return "search_detections"
}

func (r *SearchRepository) CreateSearch(ctx context.Context, id uuid.UUID, target string, threshold float64, variations []string, startedAt time.Time) error {
	search := Search{
		ID:          id,
		TargetPlate: target,
		Threshold:   threshold,
		Variations:  datatypes.NewJSONSlice(variations),
		Status:      string(anpr.SearchStatusRunning),
		StartedAt:   startedAt,
		CreatedAt:   time.Now(),
	}
	return r.db.WithContext(ctx).Create(&search).Error
}

func (r *SearchRepository) AddDetection(ctx context.Context, searchID uuid.UUID, event anpr.DetectionEvent) error {
	row := SearchDetection{
		SearchID:         searchID,
		Frame:            event.Frame,
		BoxX1:            event.Box.X1,
		BoxY1:            event.Box.Y1,
		BoxX2:            event.Box.X2,
		BoxY2:            event.Box.Y2,
		RawText:          event.RawText,
		CleanedText:      event.CleanedText,
		MatchedVariation: event.MatchedVariation,
		Similarity:       event.Similarity,
		Confidence:       event.Confidence,
		DetectedAt:       event.Timestamp,
		CreatedAt:        time.Now(),
	}
	if event.Evidence.FrameRef != "" {
		row.FrameRef = &event.Evidence.FrameRef
	}
	if event.Evidence.CropRef != "" {
		row.CropRef = &event.Evidence.CropRef
	}

	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *SearchRepository) FinishSearch(ctx context.Context, result *anpr.SearchResult, status anpr.SearchStatus, errMessage string, finishedAt time.Time) error {
	updates := map[string]interface{}{
		"status":           string(status),
		"total":            result.Total,
		"frames_read":      result.FramesRead,
		"frames_evaluated": result.FramesEvaluated,
		"finished_at":      finishedAt,
	}
	if errMessage != "" {
		updates["error_message"] = errMessage
	}

	res := r.db.WithContext(ctx).
		Model(&Search{}).
		Where("id = ?", result.SearchID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SearchRepository) GetSearch(ctx context.Context, id uuid.UUID) (*anpr.SearchRecord, error) {
	var search Search
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&search).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rows []SearchDetection
	err = r.db.WithContext(ctx).
		Where("search_id = ?", id).
		Order("frame ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	record := toRecord(search)
	record.Detections = make([]anpr.DetectionEvent, 0, len(rows))
	for _, row := range rows {
		record.Detections = append(record.Detections, toEvent(row))
	}
	return &record, nil
}

func (r *SearchRepository) ListSearches(ctx context.Context, target *string, limit, offset int) ([]anpr.SearchRecord, error) {
	query := r.db.WithContext(ctx).Model(&Search{})

	if target != nil {
		query = query.Where("target_plate = ?", *target)
	}

	query = query.Order("started_at DESC")

	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	query = query.Limit(limit)
	if offset > 0 {
		query = query.Offset(offset)
	}

	var searches []Search
	if err := query.Find(&searches).Error; err != nil {
		return nil, err
	}

	records := make([]anpr.SearchRecord, 0, len(searches))
	for _, s := range searches {
		records = append(records, toRecord(s))
	}
	return records, nil
}

func toRecord(s Search) anpr.SearchRecord {
	record := anpr.SearchRecord{
		ID:              s.ID,
		TargetPlate:     s.TargetPlate,
		Threshold:       s.Threshold,
		Variations:      []string(s.Variations),
		Status:          anpr.SearchStatus(s.Status),
		Total:           s.Total,
		FramesRead:      s.FramesRead,
		FramesEvaluated: s.FramesEvaluated,
		StartedAt:       s.StartedAt,
		FinishedAt:      s.FinishedAt,
	}
	if s.ErrorMessage != nil {
		record.ErrorMessage = *s.ErrorMessage
	}
	return record
}

func toEvent(row SearchDetection) anpr.DetectionEvent {
	event := anpr.DetectionEvent{
		Frame:            row.Frame,
		Box:              anpr.BoxInfo{X1: row.BoxX1, Y1: row.BoxY1, X2: row.BoxX2, Y2: row.BoxY2},
		RawText:          row.RawText,
		CleanedText:      row.CleanedText,
		MatchedVariation: row.MatchedVariation,
		Similarity:       row.Similarity,
		Confidence:       row.Confidence,
		Timestamp:        row.DetectedAt,
	}
	if row.FrameRef != nil {
		event.Evidence.FrameRef = *row.FrameRef
	}
	if row.CropRef != nil {
		event.Evidence.CropRef = *row.CropRef
	}
	return event
}
