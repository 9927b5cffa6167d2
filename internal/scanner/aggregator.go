package scanner

import (
	"github.com/google/uuid"

	"plate-search-service/internal/domain/anpr"
)

// Aggregator collects detection events in the order they were found.
// When a sink is set every event is handed to it as soon as it is added.
type Aggregator struct {
	searchID   uuid.UUID
	target     string
	threshold  float64
	variations []string
	detections []anpr.DetectionEvent
	sink       func(anpr.DetectionEvent)

	framesRead      int
	framesEvaluated int
	cancelled       bool
}

func NewAggregator(searchID uuid.UUID, target string, threshold float64, variations []string, sink func(anpr.DetectionEvent)) *Aggregator {
	return &Aggregator{
		searchID:   searchID,
		target:     target,
		threshold:  threshold,
		variations: variations,
		detections: make([]anpr.DetectionEvent, 0),
		sink:       sink,
	}
}

func (a *Aggregator) Add(event anpr.DetectionEvent) {
	a.detections = append(a.detections, event)
	if a.sink != nil {
		a.sink(event)
	}
}

func (a *Aggregator) frameRead()      { a.framesRead++ }
func (a *Aggregator) frameEvaluated() { a.framesEvaluated++ }
func (a *Aggregator) markCancelled()  { a.cancelled = true }

func (a *Aggregator) Len() int {
	return len(a.detections)
}

// Result snapshots the collected events into a SearchResult.
func (a *Aggregator) Result() *anpr.SearchResult {
	detections := make([]anpr.DetectionEvent, len(a.detections))
	copy(detections, a.detections)

	return &anpr.SearchResult{
		SearchID:        a.searchID,
		TargetPlate:     a.target,
		Threshold:       a.threshold,
		Variations:      a.variations,
		Detections:      detections,
		Total:           len(detections),
		Success:         len(detections) > 0,
		FramesRead:      a.framesRead,
		FramesEvaluated: a.framesEvaluated,
		Cancelled:       a.cancelled,
	}
}
