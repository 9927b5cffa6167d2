package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"plate-search-service/internal/domain/anpr"
	"plate-search-service/internal/engine"
	"plate-search-service/internal/plate"
	"plate-search-service/internal/repository"
	"plate-search-service/internal/scanner"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrSourceUnavailable = errors.New("video source unavailable")
	ErrEngineUnavailable = errors.New("detection engine unavailable")
	ErrHistoryDisabled   = errors.New("search history disabled")
)

const (
	minPlateLength = 6
	maxPlateLength = 8
)

// SearchStore persists searches and their detections.
type SearchStore interface {
	CreateSearch(ctx context.Context, id uuid.UUID, target string, threshold float64, variations []string, startedAt time.Time) error
	AddDetection(ctx context.Context, searchID uuid.UUID, event anpr.DetectionEvent) error
	FinishSearch(ctx context.Context, result *anpr.SearchResult, status anpr.SearchStatus, errMessage string, finishedAt time.Time) error
	GetSearch(ctx context.Context, id uuid.UUID) (*anpr.SearchRecord, error)
	ListSearches(ctx context.Context, target *string, limit, offset int) ([]anpr.SearchRecord, error)
}

// SourceOpener opens the video at path for a single scan.
type SourceOpener func(path string) (scanner.FrameSource, error)

type Options struct {
	VideoPath        string
	DefaultThreshold float64
	// Timeout bounds a whole search. Zero means no limit.
	Timeout time.Duration
	// Scan carries the sampling and filter settings. Target, threshold and
	// search id are filled in per request.
	Scan scanner.Config
}

type SearchRequest struct {
	Plate     string   `json:"plate"`
	Threshold *float64 `json:"threshold"`
}

type StatusReport struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	VideoAvailable bool      `json:"video_available"`
	ModelLoaded    bool      `json:"model_loaded"`
	EnginesTotal   int       `json:"engines_total"`
	EnginesIdle    int       `json:"engines_idle"`
	HistoryEnabled bool      `json:"history_enabled"`
}

type SearchService struct {
	pool       *engine.Pool
	store      scanner.ArtifactStore
	repo       SearchStore
	openSource SourceOpener
	opts       Options
	log        zerolog.Logger
	now        func() time.Time
}

// NewSearchService wires a search service. repo may be nil, in which case
// searches are not recorded.
func NewSearchService(pool *engine.Pool, store scanner.ArtifactStore, repo SearchStore, openSource SourceOpener, opts Options, log zerolog.Logger) *SearchService {
	return &SearchService{
		pool:       pool,
		store:      store,
		repo:       repo,
		openSource: openSource,
		opts:       opts,
		log:        log,
		now:        time.Now,
	}
}

// Search scans the configured video for req.Plate. When the video cannot be
// opened the returned result is the empty result for the target together with
// ErrSourceUnavailable. A search cut short by ctx returns its partial result
// with Cancelled set.
func (s *SearchService) Search(ctx context.Context, req SearchRequest) (*anpr.SearchResult, error) {
	target := strings.ToUpper(strings.TrimSpace(req.Plate))
	if target == "" {
		return nil, fmt.Errorf("%w: plate is required", ErrInvalidInput)
	}
	if n := len(target); n < minPlateLength || n > maxPlateLength {
		return nil, fmt.Errorf("%w: plate must have between %d and %d characters", ErrInvalidInput, minPlateLength, maxPlateLength)
	}

	threshold := s.opts.DefaultThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: threshold must be between 0 and 1", ErrInvalidInput)
	}

	cfg := s.opts.Scan
	cfg.SearchID = uuid.New()
	cfg.Target = target
	cfg.Threshold = threshold

	log := s.log.With().
		Str("search_id", cfg.SearchID.String()).
		Str("target", target).
		Float64("threshold", threshold).
		Logger()

	if !s.videoExists() {
		log.Warn().Str("video", s.opts.VideoPath).Msg("video not found")
		return emptyResult(cfg), fmt.Errorf("%w: %s not found", ErrSourceUnavailable, s.opts.VideoPath)
	}

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	engineCtx, err := s.pool.Checkout(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("no engine available")
		return emptyResult(cfg), fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer s.pool.Return(engineCtx)

	src, err := s.openSource(s.opts.VideoPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to open video")
		return emptyResult(cfg), fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close video")
		}
	}()

	started := s.now()
	recorder := s.startRecording(ctx, log, cfg, started)

	log.Info().Int("engine", engineCtx.ID).Msg("search started")

	sc := scanner.New(engineCtx.Detector, engineCtx.Reader, s.store, s.log)
	result, scanErr := sc.Scan(ctx, cfg, src, recorder.add)

	status := anpr.SearchStatusCompleted
	var errMessage string
	switch {
	case scanErr == nil:
	case errors.Is(scanErr, context.Canceled), errors.Is(scanErr, context.DeadlineExceeded):
		status = anpr.SearchStatusCancelled
		errMessage = scanErr.Error()
	default:
		status = anpr.SearchStatusFailed
		errMessage = scanErr.Error()
	}
	recorder.finish(result, status, errMessage, s.now())

	log.Info().
		Str("status", string(status)).
		Int("detections", result.Total).
		Int("frames_evaluated", result.FramesEvaluated).
		Dur("elapsed", s.now().Sub(started)).
		Msg("search finished")

	if status == anpr.SearchStatusFailed {
		return result, fmt.Errorf("%w: %v", ErrSourceUnavailable, scanErr)
	}
	return result, nil
}

func (s *SearchService) Status(ctx context.Context) StatusReport {
	report := StatusReport{
		Status:         "online",
		Timestamp:      s.now(),
		VideoAvailable: s.videoExists(),
		HistoryEnabled: s.repo != nil,
	}
	if s.pool != nil {
		report.EnginesTotal = s.pool.Size()
		report.EnginesIdle = s.pool.Idle()
		report.ModelLoaded = report.EnginesTotal > 0
	}
	return report
}

func (s *SearchService) ListSearches(ctx context.Context, plateQuery string, limit, offset int) ([]anpr.SearchRecord, error) {
	if s.repo == nil {
		return nil, ErrHistoryDisabled
	}
	if limit < 0 || offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset cannot be negative", ErrInvalidInput)
	}

	var target *string
	if p := strings.ToUpper(strings.TrimSpace(plateQuery)); p != "" {
		target = &p
	}

	records, err := s.repo.ListSearches(ctx, target, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list searches: %w", err)
	}
	return records, nil
}

func (s *SearchService) GetSearch(ctx context.Context, rawID string) (*anpr.SearchRecord, error) {
	if s.repo == nil {
		return nil, ErrHistoryDisabled
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid search id", ErrInvalidInput)
	}

	record, err := s.repo.GetSearch(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: search %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get search: %w", err)
	}
	return record, nil
}

func (s *SearchService) videoExists() bool {
	info, err := os.Stat(s.opts.VideoPath)
	return err == nil && info.Mode().IsRegular()
}

func emptyResult(cfg scanner.Config) *anpr.SearchResult {
	return &anpr.SearchResult{
		SearchID:    cfg.SearchID,
		TargetPlate: cfg.Target,
		Threshold:   cfg.Threshold,
		Variations:  plate.Variations(cfg.Target),
		Detections:  make([]anpr.DetectionEvent, 0),
	}
}

// recorder writes one search to the history store. Writes outlive the
// request context so a cancelled search still records what it found.
type recorder struct {
	repo SearchStore
	ctx  context.Context
	log  zerolog.Logger
	id   uuid.UUID
}

func (s *SearchService) startRecording(ctx context.Context, log zerolog.Logger, cfg scanner.Config, started time.Time) *recorder {
	if s.repo == nil {
		return &recorder{}
	}

	rctx := context.WithoutCancel(ctx)
	if err := s.repo.CreateSearch(rctx, cfg.SearchID, cfg.Target, cfg.Threshold, plate.Variations(cfg.Target), started); err != nil {
		log.Error().Err(err).Msg("failed to record search, continuing without history")
		return &recorder{}
	}
	return &recorder{repo: s.repo, ctx: rctx, log: log, id: cfg.SearchID}
}

func (r *recorder) add(event anpr.DetectionEvent) {
	if r.repo == nil {
		return
	}
	if err := r.repo.AddDetection(r.ctx, r.id, event); err != nil {
		r.log.Error().Err(err).Int("frame", event.Frame).Msg("failed to record detection")
	}
}

func (r *recorder) finish(result *anpr.SearchResult, status anpr.SearchStatus, errMessage string, at time.Time) {
	if r.repo == nil {
		return
	}
	if err := r.repo.FinishSearch(r.ctx, result, status, errMessage, at); err != nil {
		r.log.Error().Err(err).Msg("failed to finalize search record")
	}
}
