package scanner

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"plate-search-service/internal/domain/anpr"
)

type frameScript struct {
	detections []anpr.ObjectDetection
	detectErr  error
	regions    [][]anpr.TextRegion
	readErrs   []error
}

// fakeVideo plays the source, detector and reader roles over one script so
// that the fakes agree on which frame is current.
type fakeVideo struct {
	frames    int
	current   int
	scripts   map[int]frameScript
	decodeErr map[int]error
	nextErr   map[int]error

	boxCall     int
	detectCalls []int
	closed      bool
}

func newFakeVideo(frames int) *fakeVideo {
	return &fakeVideo{
		frames:    frames,
		scripts:   map[int]frameScript{},
		decodeErr: map[int]error{},
		nextErr:   map[int]error{},
	}
}

func (v *fakeVideo) Next(ctx context.Context) (int, error) {
	if v.current >= v.frames {
		return 0, io.EOF
	}
	if err := v.nextErr[v.current+1]; err != nil {
		return 0, err
	}
	v.current++
	return v.current, nil
}

func (v *fakeVideo) Image() (image.Image, error) {
	if err := v.decodeErr[v.current]; err != nil {
		return nil, err
	}
	return imaging.New(320, 240, color.NRGBA{R: 40, G: 40, B: 40, A: 255}), nil
}

func (v *fakeVideo) Close() error {
	v.closed = true
	return nil
}

func (v *fakeVideo) Detect(ctx context.Context, img image.Image) ([]anpr.ObjectDetection, error) {
	v.detectCalls = append(v.detectCalls, v.current)
	v.boxCall = 0
	script := v.scripts[v.current]
	return script.detections, script.detectErr
}

func (v *fakeVideo) Read(ctx context.Context, img image.Image) ([]anpr.TextRegion, error) {
	script := v.scripts[v.current]
	i := v.boxCall
	v.boxCall++
	if i < len(script.readErrs) && script.readErrs[i] != nil {
		return nil, script.readErrs[i]
	}
	if i < len(script.regions) {
		return script.regions[i], nil
	}
	return nil, nil
}

type memoryStore struct {
	mu       sync.Mutex
	stored   map[string]image.Image
	storeErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{stored: map[string]image.Image{}}
}

func (m *memoryStore) Store(ctx context.Context, name string, img image.Image) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storeErr != nil {
		return "", m.storeErr
	}
	m.stored[name] = img
	return name, nil
}

func (m *memoryStore) Encode(ref string) (string, error) {
	return "b64:" + ref, nil
}

func motorcycle(x1, y1, x2, y2 int, conf float64) anpr.ObjectDetection {
	return anpr.ObjectDetection{Box: image.Rect(x1, y1, x2, y2), ClassID: MotorcycleClassID, Confidence: conf}
}

func region(text string, conf float64) anpr.TextRegion {
	return anpr.TextRegion{Text: text, Confidence: conf}
}

func newTestScanner(v *fakeVideo, store ArtifactStore) *Scanner {
	s := New(v, v, store, zerolog.Nop())
	s.now = func() time.Time { return time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC) }
	return s
}

func TestScanSamplingStride(t *testing.T) {
	testCases := []struct {
		frames   int
		stride   int
		expected []int
	}{
		{frames: 100, stride: 15, expected: []int{15, 30, 45, 60, 75, 90}},
		{frames: 14, stride: 15, expected: nil},
		{frames: 45, stride: 15, expected: []int{15, 30, 45}},
		{frames: 5, stride: 1, expected: []int{1, 2, 3, 4, 5}},
	}

	for _, tc := range testCases {
		v := newFakeVideo(tc.frames)
		cfg := DefaultConfig("ABC1D23")
		cfg.Stride = tc.stride

		res, err := newTestScanner(v, nil).Scan(context.Background(), cfg, v, nil)
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}

		if res.FramesEvaluated != tc.frames/tc.stride {
			t.Errorf("frames=%d stride=%d: evaluated %d, expected %d", tc.frames, tc.stride, res.FramesEvaluated, tc.frames/tc.stride)
		}
		if res.FramesRead != tc.frames {
			t.Errorf("frames=%d: read %d", tc.frames, res.FramesRead)
		}
		if !reflect.DeepEqual(v.detectCalls, tc.expected) {
			t.Errorf("frames=%d stride=%d: detector saw %v, expected %v", tc.frames, tc.stride, v.detectCalls, tc.expected)
		}
	}
}

func TestScanEndToEnd(t *testing.T) {
	// Arrange
	v := newFakeVideo(100)
	v.scripts[45] = frameScript{
		detections: []anpr.ObjectDetection{motorcycle(50, 60, 150, 200, 0.8)},
		regions:    [][]anpr.TextRegion{{region("ABC1D23", 0.9)}},
	}
	store := newMemoryStore()
	cfg := DefaultConfig("ABC1D23")

	// Act
	res, err := newTestScanner(v, store).Scan(context.Background(), cfg, v, nil)

	// Assert
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !res.Success || res.Total != 1 || len(res.Detections) != 1 {
		t.Fatalf("expected one detection, got %+v", res)
	}
	d := res.Detections[0]
	if d.Frame != 45 {
		t.Errorf("frame = %d, expected 45", d.Frame)
	}
	if d.Similarity != 1.0 {
		t.Errorf("similarity = %v, expected 1.0", d.Similarity)
	}
	if d.CleanedText != "ABC1D23" || d.RawText != "ABC1D23" || d.MatchedVariation != "ABC1D23" {
		t.Errorf("unexpected texts %+v", d)
	}
	if d.Confidence != 0.9 {
		t.Errorf("confidence = %v, expected 0.9", d.Confidence)
	}
	if d.Box != (anpr.BoxInfo{X1: 50, Y1: 60, X2: 150, Y2: 200}) {
		t.Errorf("unexpected box %+v", d.Box)
	}
	if !reflect.DeepEqual(res.Variations, []string{"ABC1D23"}) {
		t.Errorf("unexpected variations %v", res.Variations)
	}

	if d.Evidence.FrameRef == "" || d.Evidence.CropRef == "" {
		t.Fatalf("expected evidence refs, got %+v", d.Evidence)
	}
	if d.Evidence.FrameBase64 != "b64:"+d.Evidence.FrameRef || d.Evidence.CropBase64 != "b64:"+d.Evidence.CropRef {
		t.Errorf("unexpected encodings %+v", d.Evidence)
	}
	expectedFrameRef := cfg.SearchID.String() + "/match_ABC1D23_frame45_20240517_103000_000_frame.jpg"
	if d.Evidence.FrameRef != expectedFrameRef {
		t.Errorf("frame ref = %q, expected %q", d.Evidence.FrameRef, expectedFrameRef)
	}
	crop := store.stored[d.Evidence.CropRef]
	if crop == nil || crop.Bounds().Dx() != 100 || crop.Bounds().Dy() != 140 {
		t.Errorf("expected a 100x140 vehicle crop, got %v", crop)
	}
	annotated := store.stored[d.Evidence.FrameRef]
	if annotated == nil || annotated.Bounds().Dx() != 320 {
		t.Errorf("expected full annotated frame, got %v", annotated)
	}
}

func TestScanCombinesSplitTokens(t *testing.T) {
	v := newFakeVideo(15)
	v.scripts[15] = frameScript{
		detections: []anpr.ObjectDetection{motorcycle(0, 0, 100, 100, 0.9)},
		regions:    [][]anpr.TextRegion{{region("G95", 0.8), region("TAT9", 0.9)}},
	}

	res, err := newTestScanner(v, newMemoryStore()).Scan(context.Background(), DefaultConfig("TAT9G95"), v, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("expected 1 detection, got %d: %+v", res.Total, res.Detections)
	}
	d := res.Detections[0]
	if d.RawText != "TAT9+G95" || d.CleanedText != "TAT9G95" || d.Confidence != 0.8 {
		t.Errorf("unexpected detection %+v", d)
	}
}

func TestScanFiltersBoxesAndTokens(t *testing.T) {
	v := newFakeVideo(15)
	v.scripts[15] = frameScript{
		detections: []anpr.ObjectDetection{
			{Box: image.Rect(0, 0, 50, 50), ClassID: 2, Confidence: 0.99},
			motorcycle(0, 0, 50, 50, 0.5),
			motorcycle(400, 400, 500, 500, 0.9),
			motorcycle(10, 10, 60, 60, 0.7),
		},
		regions: [][]anpr.TextRegion{{
			region("ABC1D23", 0.3),
			region("A", 0.99),
			region("ABC1D2", 0.9),
		}},
	}

	res, err := newTestScanner(v, nil).Scan(context.Background(), DefaultConfig("ABC1D23"), v, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if v.boxCall != 1 {
		t.Errorf("expected OCR on exactly one box, got %d", v.boxCall)
	}
	if res.Success {
		t.Errorf("expected no detection, got %+v", res.Detections)
	}
}

func TestScanFuzzyThreshold(t *testing.T) {
	v := newFakeVideo(15)
	v.scripts[15] = frameScript{
		detections: []anpr.ObjectDetection{motorcycle(0, 0, 100, 100, 0.9)},
		regions:    [][]anpr.TextRegion{{region("TAT9G9", 0.7)}},
	}
	cfg := DefaultConfig("TAT9G95")
	cfg.Threshold = 0.9

	res, err := newTestScanner(v, nil).Scan(context.Background(), cfg, v, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("expected fuzzy detection, got %+v", res)
	}
	if math.Abs(res.Detections[0].Similarity-12.0/13.0) > 1e-9 {
		t.Errorf("unexpected similarity %v", res.Detections[0].Similarity)
	}
	if res.Detections[0].Evidence != (anpr.Evidence{}) {
		t.Errorf("expected no evidence without a store, got %+v", res.Detections[0].Evidence)
	}
}

func TestScanSkipsFailedUnits(t *testing.T) {
	// Arrange
	v := newFakeVideo(60)
	v.scripts[15] = frameScript{detectErr: errors.New("inference failed")}
	v.decodeErr[30] = errors.New("corrupt frame")
	v.scripts[45] = frameScript{
		detections: []anpr.ObjectDetection{
			motorcycle(0, 0, 100, 100, 0.9),
			motorcycle(100, 100, 200, 200, 0.9),
		},
		readErrs: []error{errors.New("ocr crashed")},
		regions:  [][]anpr.TextRegion{nil, {region("ABC1D23", 0.95)}},
	}
	v.scripts[60] = frameScript{
		detections: []anpr.ObjectDetection{motorcycle(0, 0, 100, 100, 0.9)},
		regions:    [][]anpr.TextRegion{{region("abc-1d23", 0.6)}},
	}
	store := newMemoryStore()
	store.storeErr = errors.New("disk full")

	// Act
	res, err := newTestScanner(v, store).Scan(context.Background(), DefaultConfig("ABC1D23"), v, nil)

	// Assert
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Total != 2 {
		t.Fatalf("expected 2 detections, got %d: %+v", res.Total, res.Detections)
	}
	if res.Detections[0].Frame != 45 || res.Detections[1].Frame != 60 {
		t.Errorf("unexpected frames %d, %d", res.Detections[0].Frame, res.Detections[1].Frame)
	}
	if res.Detections[0].Box.X1 != 100 {
		t.Errorf("expected detection from the second box, got %+v", res.Detections[0].Box)
	}
	if res.Detections[1].RawText != "abc-1d23" {
		t.Errorf("expected raw OCR text to be kept, got %q", res.Detections[1].RawText)
	}
	for _, d := range res.Detections {
		if d.Evidence != (anpr.Evidence{}) {
			t.Errorf("expected empty evidence after store failure, got %+v", d.Evidence)
		}
	}
	if res.FramesEvaluated != 4 {
		t.Errorf("frames evaluated = %d, expected 4", res.FramesEvaluated)
	}
}

func TestScanKeepsEvaluationOrder(t *testing.T) {
	v := newFakeVideo(15)
	v.scripts[15] = frameScript{
		detections: []anpr.ObjectDetection{
			motorcycle(0, 0, 50, 50, 0.9),
			motorcycle(50, 50, 100, 100, 0.9),
		},
		regions: [][]anpr.TextRegion{
			{region("TAT9695", 0.6), region("TAT9G95", 0.9)},
			{region("TAT995", 0.7)},
		},
	}

	var streamed []string
	sink := func(e anpr.DetectionEvent) { streamed = append(streamed, e.CleanedText) }

	res, err := newTestScanner(v, newMemoryStore()).Scan(context.Background(), DefaultConfig("TAT9G95"), v, sink)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	expected := []string{"TAT9695", "TAT9G95", "TAT995"}
	got := make([]string, 0, len(res.Detections))
	for _, d := range res.Detections {
		got = append(got, d.CleanedText)
	}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("detections %v, expected %v", got, expected)
	}
	if !reflect.DeepEqual(streamed, expected) {
		t.Errorf("streamed %v, expected %v", streamed, expected)
	}
}

func TestScanCancellationKeepsPartialResults(t *testing.T) {
	v := newFakeVideo(90)
	for _, f := range []int{15, 30, 45} {
		v.scripts[f] = frameScript{
			detections: []anpr.ObjectDetection{motorcycle(0, 0, 100, 100, 0.9)},
			regions:    [][]anpr.TextRegion{{region("ABC1D23", 0.9)}},
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := func(e anpr.DetectionEvent) {
		if e.Frame == 30 {
			cancel()
		}
	}

	res, err := newTestScanner(v, nil).Scan(ctx, DefaultConfig("ABC1D23"), v, sink)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !res.Cancelled {
		t.Errorf("expected result to be marked cancelled")
	}
	if res.Total != 2 || res.Detections[1].Frame != 30 {
		t.Errorf("expected detections at 15 and 30, got %+v", res.Detections)
	}
	if !res.Success {
		t.Errorf("partial result with detections should be successful")
	}
}

func TestScanSourceFailure(t *testing.T) {
	v := newFakeVideo(60)
	v.scripts[15] = frameScript{
		detections: []anpr.ObjectDetection{motorcycle(0, 0, 100, 100, 0.9)},
		regions:    [][]anpr.TextRegion{{region("ABC1D23", 0.9)}},
	}
	v.nextErr[20] = errors.New("decoder crashed")

	res, err := newTestScanner(v, nil).Scan(context.Background(), DefaultConfig("ABC1D23"), v, nil)
	if err == nil {
		t.Fatal("expected source error")
	}
	if res == nil || res.Total != 1 || res.FramesRead != 19 {
		t.Errorf("expected partial result with 1 detection over 19 frames, got %+v", res)
	}
}

func TestFilterTokens(t *testing.T) {
	regions := []anpr.TextRegion{
		region("ABC", 0.31),
		region("DEF", 0.3),
		region("- 1 -", 0.9),
		region("1D", 0.5),
	}

	got := FilterTokens(regions, 0.3, 2)

	expected := []anpr.Token{
		{Text: "ABC", Confidence: 0.31},
		{Text: "1D", Confidence: 0.5},
	}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("FilterTokens = %+v, expected %+v", got, expected)
	}
}

func TestAggregatorResult(t *testing.T) {
	cfg := DefaultConfig("ABC1D23")
	agg := NewAggregator(cfg.SearchID, cfg.Target, cfg.Threshold, []string{"ABC1D23"}, nil)

	empty := agg.Result()
	if empty.Success || empty.Total != 0 || empty.Detections == nil {
		t.Errorf("unexpected empty result %+v", empty)
	}

	agg.Add(anpr.DetectionEvent{Frame: 15})
	agg.Add(anpr.DetectionEvent{Frame: 30})
	res := agg.Result()
	if !res.Success || res.Total != 2 || res.SearchID != cfg.SearchID {
		t.Errorf("unexpected result %+v", res)
	}

	res.Detections[0].Frame = 999
	if agg.Result().Detections[0].Frame != 15 {
		t.Errorf("Result exposed internal detections")
	}
}
