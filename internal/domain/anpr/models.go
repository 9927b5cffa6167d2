package anpr

import (
	"image"
	"time"

	"github.com/google/uuid"
)

// ObjectDetection is one box reported by the object detector for a frame.
type ObjectDetection struct {
	Box        image.Rectangle
	ClassID    int
	Confidence float64
}

// TextRegion is one text region reported by the OCR engine for a crop.
type TextRegion struct {
	Box        image.Rectangle
	Text       string
	Confidence float64
}

// Token is the part of a TextRegion the matcher consumes.
type Token struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Candidate is a normalized string assembled from one or two tokens.
// Label keeps the raw OCR text it came from, "a+b" for combinations.
type Candidate struct {
	Text       string  `json:"text"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type BoxInfo struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func NewBoxInfo(r image.Rectangle) BoxInfo {
	return BoxInfo{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

type Evidence struct {
	FrameRef    string `json:"frame_ref,omitempty"`
	CropRef     string `json:"crop_ref,omitempty"`
	FrameBase64 string `json:"frame_base64,omitempty"`
	CropBase64  string `json:"crop_base64,omitempty"`
}

type DetectionEvent struct {
	Frame            int       `json:"frame"`
	Box              BoxInfo   `json:"box"`
	RawText          string    `json:"raw_text"`
	CleanedText      string    `json:"cleaned_text"`
	MatchedVariation string    `json:"matched_variation"`
	Similarity       float64   `json:"similarity"`
	Confidence       float64   `json:"confidence"`
	Timestamp        time.Time `json:"timestamp"`
	Evidence         Evidence  `json:"evidence"`
}

type SearchResult struct {
	SearchID        uuid.UUID        `json:"search_id"`
	TargetPlate     string           `json:"target"`
	Threshold       float64          `json:"threshold"`
	Variations      []string         `json:"variations"`
	Detections      []DetectionEvent `json:"detections"`
	Total           int              `json:"total"`
	Success         bool             `json:"success"`
	FramesRead      int              `json:"frames_read"`
	FramesEvaluated int              `json:"frames_evaluated"`
	Cancelled       bool             `json:"cancelled,omitempty"`
}

type SearchStatus string

const (
	SearchStatusRunning   SearchStatus = "RUNNING"
	SearchStatusCompleted SearchStatus = "COMPLETED"
	SearchStatusCancelled SearchStatus = "CANCELLED"
	SearchStatusFailed    SearchStatus = "FAILED"
)

// SearchRecord is a persisted search as listed in the history.
type SearchRecord struct {
	ID              uuid.UUID        `json:"id"`
	TargetPlate     string           `json:"target"`
	Threshold       float64          `json:"threshold"`
	Variations      []string         `json:"variations"`
	Status          SearchStatus     `json:"status"`
	Total           int              `json:"total"`
	FramesRead      int              `json:"frames_read"`
	FramesEvaluated int              `json:"frames_evaluated"`
	ErrorMessage    string           `json:"error,omitempty"`
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      *time.Time       `json:"finished_at,omitempty"`
	Detections      []DetectionEvent `json:"detections,omitempty"`
}
