package scanner

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"plate-search-service/internal/domain/anpr"
	"plate-search-service/internal/evidence"
	"plate-search-service/internal/plate"
	"plate-search-service/internal/utils"
)

// MotorcycleClassID is the COCO class id of motorcycles.
const MotorcycleClassID = 3

type Config struct {
	SearchID             uuid.UUID
	Target               string
	Threshold            float64
	Stride               int
	VehicleClassID       int
	VehicleMinConfidence float64
	TokenMinConfidence   float64
	MinTokenLength       int
}

// DefaultConfig matches exact plates and confusion-model variations only.
func DefaultConfig(target string) Config {
	return Config{
		SearchID:             uuid.New(),
		Target:               target,
		Threshold:            1.0,
		Stride:               15,
		VehicleClassID:       MotorcycleClassID,
		VehicleMinConfidence: 0.5,
		TokenMinConfidence:   0.3,
		MinTokenLength:       2,
	}
}

type Scanner struct {
	detector Detector
	reader   TextReader
	store    ArtifactStore
	log      zerolog.Logger
	now      func() time.Time
}

func New(detector Detector, reader TextReader, store ArtifactStore, log zerolog.Logger) *Scanner {
	return &Scanner{
		detector: detector,
		reader:   reader,
		store:    store,
		log:      log,
		now:      time.Now,
	}
}

// unitOutcome is the result of reading one vehicle crop: either tokens or
// the reason the crop was skipped.
type unitOutcome struct {
	tokens []anpr.Token
	err    error
}

func (o unitOutcome) failed() bool {
	return o.err != nil
}

// Scan walks src from start to end and returns every detection of the target.
// A failure on one frame or box only skips that unit. The returned result is
// never nil: on cancellation or a broken source it holds what was found so far
// and the error says why the scan stopped early.
func (s *Scanner) Scan(ctx context.Context, cfg Config, src FrameSource, sink func(anpr.DetectionEvent)) (*anpr.SearchResult, error) {
	if cfg.Stride < 1 {
		cfg.Stride = 1
	}

	matcher := plate.NewMatcher(cfg.Target, cfg.Threshold)
	agg := NewAggregator(cfg.SearchID, cfg.Target, cfg.Threshold, matcher.Variations(), sink)

	log := s.log.With().
		Str("search_id", cfg.SearchID.String()).
		Str("target", cfg.Target).
		Logger()

	for {
		if err := ctx.Err(); err != nil {
			agg.markCancelled()
			log.Warn().Int("detections", agg.Len()).Msg("scan cancelled")
			return agg.Result(), err
		}

		index, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				agg.markCancelled()
				return agg.Result(), ctx.Err()
			}
			log.Error().Err(err).Msg("frame source failed")
			return agg.Result(), fmt.Errorf("read frame: %w", err)
		}
		agg.frameRead()

		if index%cfg.Stride != 0 {
			continue
		}
		agg.frameEvaluated()

		frame, err := src.Image()
		if err != nil {
			log.Warn().Err(err).Int("frame", index).Msg("skipping undecodable frame")
			continue
		}

		s.scanFrame(ctx, log, cfg, matcher, agg, index, frame)
	}

	result := agg.Result()
	log.Info().
		Int("frames_read", result.FramesRead).
		Int("frames_evaluated", result.FramesEvaluated).
		Int("detections", result.Total).
		Msg("scan finished")
	return result, nil
}

func (s *Scanner) scanFrame(ctx context.Context, log zerolog.Logger, cfg Config, matcher *plate.Matcher, agg *Aggregator, index int, frame image.Image) {
	boxes, err := s.detector.Detect(ctx, frame)
	if err != nil {
		log.Warn().Err(err).Int("frame", index).Msg("detector failed, skipping frame")
		return
	}

	for _, det := range boxes {
		if det.ClassID != cfg.VehicleClassID || det.Confidence <= cfg.VehicleMinConfidence {
			continue
		}

		box := det.Box.Intersect(frame.Bounds())
		if box.Empty() {
			continue
		}
		crop := imaging.Crop(frame, box)

		outcome := s.readCrop(ctx, cfg, crop)
		if outcome.failed() {
			log.Warn().Err(outcome.err).Int("frame", index).Msg("ocr failed, skipping box")
			continue
		}

		for _, cand := range plate.Combine(outcome.tokens) {
			res := matcher.Match(cand.Text)
			if !res.IsMatch {
				continue
			}

			ts := s.now()
			event := anpr.DetectionEvent{
				Frame:            index,
				Box:              anpr.NewBoxInfo(box),
				RawText:          cand.Label,
				CleanedText:      cand.Text,
				MatchedVariation: res.Variation,
				Similarity:       res.Similarity,
				Confidence:       cand.Confidence,
				Timestamp:        ts,
			}
			event.Evidence = s.capture(ctx, log, cfg, agg.Len(), event, frame, crop)

			log.Info().
				Int("frame", index).
				Str("raw_text", cand.Label).
				Str("cleaned_text", cand.Text).
				Str("variation", res.Variation).
				Float64("similarity", res.Similarity).
				Msg("plate match")

			agg.Add(event)
		}
	}
}

func (s *Scanner) readCrop(ctx context.Context, cfg Config, crop image.Image) unitOutcome {
	regions, err := s.reader.Read(ctx, crop)
	if err != nil {
		return unitOutcome{err: err}
	}
	return unitOutcome{tokens: FilterTokens(regions, cfg.TokenMinConfidence, cfg.MinTokenLength)}
}

// capture stores the annotated frame and the raw crop. Failures are logged
// and leave the corresponding references empty; the detection stands.
func (s *Scanner) capture(ctx context.Context, log zerolog.Logger, cfg Config, seq int, event anpr.DetectionEvent, frame, crop image.Image) anpr.Evidence {
	var ev anpr.Evidence
	if s.store == nil {
		return ev
	}

	base := fmt.Sprintf("%s/match_%s_frame%d_%s_%03d",
		cfg.SearchID, event.CleanedText, event.Frame, event.Timestamp.Format("20060102_150405"), seq)

	box := image.Rect(event.Box.X1, event.Box.Y1, event.Box.X2, event.Box.Y2)
	annotated := evidence.Annotate(frame, box,
		"MATCH: "+event.CleanedText,
		"TARGET: "+utils.NormalizePlate(cfg.Target),
		fmt.Sprintf("SIM: %d%%", int(math.Round(event.Similarity*100))),
	)

	if ref, err := s.store.Store(ctx, base+"_frame.jpg", annotated); err != nil {
		log.Warn().Err(err).Int("frame", event.Frame).Msg("failed to store frame evidence")
	} else {
		ev.FrameRef = ref
		if ev.FrameBase64, err = s.store.Encode(ref); err != nil {
			log.Warn().Err(err).Str("ref", ref).Msg("failed to encode frame evidence")
		}
	}

	if ref, err := s.store.Store(ctx, base+"_vehicle.jpg", crop); err != nil {
		log.Warn().Err(err).Int("frame", event.Frame).Msg("failed to store vehicle evidence")
	} else {
		ev.CropRef = ref
		if ev.CropBase64, err = s.store.Encode(ref); err != nil {
			log.Warn().Err(err).Str("ref", ref).Msg("failed to encode vehicle evidence")
		}
	}

	return ev
}

// FilterTokens keeps regions above minConfidence whose normalized text has at
// least minLength characters.
func FilterTokens(regions []anpr.TextRegion, minConfidence float64, minLength int) []anpr.Token {
	tokens := make([]anpr.Token, 0, len(regions))
	for _, r := range regions {
		if r.Confidence <= minConfidence {
			continue
		}
		if len(utils.NormalizePlate(r.Text)) < minLength {
			continue
		}
		tokens = append(tokens, anpr.Token{Text: r.Text, Confidence: r.Confidence})
	}
	return tokens
}
