package http

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"plate-search-service/internal/domain/anpr"
	"plate-search-service/internal/service"
)

const serviceVersion = "2.0.0"

type SearchService interface {
	Search(ctx context.Context, req service.SearchRequest) (*anpr.SearchResult, error)
	Status(ctx context.Context) service.StatusReport
	ListSearches(ctx context.Context, plateQuery string, limit, offset int) ([]anpr.SearchRecord, error)
	GetSearch(ctx context.Context, rawID string) (*anpr.SearchRecord, error)
}

// EvidenceFiles resolves evidence references to files on disk.
type EvidenceFiles interface {
	Path(ref string) (string, error)
}

type Handler struct {
	searchService SearchService
	evidence      EvidenceFiles
	evidencePath  string
	log           zerolog.Logger
}

func NewHandler(
	searchService SearchService,
	evidence EvidenceFiles,
	evidencePath string,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		searchService: searchService,
		evidence:      evidence,
		evidencePath:  strings.TrimRight(evidencePath, "/"),
		log:           log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	public := r.Group("/api/v1")
	{
		public.POST("/search", h.search)
		public.GET("/status", h.status)
		public.GET("/info", h.info)
	}

	r.GET(h.evidencePath+"/:search/:file", h.serveEvidence)

	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.GET("/searches", h.listSearches)
		protected.GET("/searches/:id", h.getSearch)
	}
}

type detectionResponse struct {
	Frame            int          `json:"frame"`
	Box              anpr.BoxInfo `json:"box"`
	RawText          string       `json:"raw_text"`
	CleanedText      string       `json:"cleaned_text"`
	MatchedVariation string       `json:"matched_variation"`
	Similarity       float64      `json:"similarity"`
	Confidence       float64      `json:"confidence"`
	Timestamp        time.Time    `json:"timestamp"`
	FrameBase64      string       `json:"frame_base64,omitempty"`
	CropBase64       string       `json:"crop_base64,omitempty"`
	FrameURL         string       `json:"frame_url,omitempty"`
	CropURL          string       `json:"crop_url,omitempty"`
}

type searchResponse struct {
	Success         bool                `json:"success"`
	SearchID        uuid.UUID           `json:"search_id"`
	Target          string              `json:"target"`
	Threshold       float64             `json:"threshold"`
	Total           int                 `json:"total"`
	Variations      []string            `json:"variations"`
	FramesRead      int                 `json:"frames_read"`
	FramesEvaluated int                 `json:"frames_evaluated"`
	Cancelled       bool                `json:"cancelled,omitempty"`
	Detections      []detectionResponse `json:"detections"`
	Error           string              `json:"error,omitempty"`
}

func (h *Handler) search(c *gin.Context) {
	var req service.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	result, err := h.searchService.Search(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		case result != nil && (errors.Is(err, service.ErrSourceUnavailable) || errors.Is(err, service.ErrEngineUnavailable)):
			resp := h.toSearchResponse(result)
			resp.Error = err.Error()
			c.JSON(http.StatusServiceUnavailable, resp)
		default:
			h.log.Error().Err(err).Str("plate", req.Plate).Msg("search failed")
			c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		}
		return
	}

	c.JSON(http.StatusOK, h.toSearchResponse(result))
}

func (h *Handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.searchService.Status(c.Request.Context()))
}

func (h *Handler) info(c *gin.Context) {
	endpoints := gin.H{
		"POST /api/v1/search":      "search the video for a plate",
		"GET /api/v1/status":       "service and engine status",
		"GET /api/v1/info":         "this document",
		"GET /api/v1/searches":     "search history (auth)",
		"GET /api/v1/searches/:id": "one search with its detections (auth)",
	}
	endpoints["GET "+h.evidencePath+"/:search/:file"] = "evidence image of a detection"

	c.JSON(http.StatusOK, gin.H{
		"name":        "plate-search-service",
		"version":     serviceVersion,
		"description": "Searches recorded video for a vehicle plate using object detection, OCR and fuzzy matching",
		"endpoints":   endpoints,
	})
}

func (h *Handler) serveEvidence(c *gin.Context) {
	ref := c.Param("search") + "/" + c.Param("file")

	path, err := h.evidence.Path(ref)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid evidence reference"))
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		c.JSON(http.StatusNotFound, errorResponse("evidence not found"))
		return
	}

	c.File(path)
}

func (h *Handler) listSearches(c *gin.Context) {
	plateQuery := strings.TrimSpace(c.Query("plate"))

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := parseInt(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	records, err := h.searchService.ListSearches(c.Request.Context(), plateQuery, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(records))
}

func (h *Handler) getSearch(c *gin.Context) {
	record, err := h.searchService.GetSearch(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(record))
}

func (h *Handler) toSearchResponse(result *anpr.SearchResult) searchResponse {
	resp := searchResponse{
		Success:         result.Success,
		SearchID:        result.SearchID,
		Target:          result.TargetPlate,
		Threshold:       result.Threshold,
		Total:           result.Total,
		Variations:      result.Variations,
		FramesRead:      result.FramesRead,
		FramesEvaluated: result.FramesEvaluated,
		Cancelled:       result.Cancelled,
		Detections:      make([]detectionResponse, 0, len(result.Detections)),
	}
	for _, d := range result.Detections {
		resp.Detections = append(resp.Detections, detectionResponse{
			Frame:            d.Frame,
			Box:              d.Box,
			RawText:          d.RawText,
			CleanedText:      d.CleanedText,
			MatchedVariation: d.MatchedVariation,
			Similarity:       d.Similarity,
			Confidence:       d.Confidence,
			Timestamp:        d.Timestamp,
			FrameBase64:      d.Evidence.FrameBase64,
			CropBase64:       d.Evidence.CropBase64,
			FrameURL:         h.evidenceURL(d.Evidence.FrameRef),
			CropURL:          h.evidenceURL(d.Evidence.CropRef),
		})
	}
	return resp
}

func (h *Handler) evidenceURL(ref string) string {
	if ref == "" {
		return ""
	}
	return h.evidencePath + "/" + ref
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrHistoryDisabled):
		c.JSON(http.StatusServiceUnavailable, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
