package http

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/mishura/stylist/internal/middleware"
	"github.com/mishura/stylist/internal/models"
	"github.com/mishura/stylist/internal/service"
)

const (
	maxAnalyzeBody  = service.MaxCompareImages*service.MaxImageBytes + 1<<20
	multipartMemory = 32 << 20
)

// AnalysisService defines the operation required by the AnalysisHandler.
type AnalysisService interface {
	Analyze(ctx context.Context, req service.AnalysisRequest) (*service.AnalysisResult, error)
}

// AnalysisHandler handles outfit analysis uploads.
type AnalysisHandler struct {
	AnalysisService AnalysisService
	Log             *zap.Logger
}

type analysisMetadata struct {
	ConsultationID string    `json:"consultationId"`
	Balance        int       `json:"balance"`
	Timestamp      time.Time `json:"timestamp"`
	ImagesCount    int       `json:"imagesCount"`
	Mode           string    `json:"mode"`
}

type analysisResponse struct {
	Status   string           `json:"status"`
	Advice   string           `json:"advice"`
	Metadata analysisMetadata `json:"metadata"`
}

// Analyze handles POST /analyze. The form carries userId, mode, occasion,
// preferences and the photos as "image" (single) or repeated "images" (compare).
func (h *AnalysisHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAnalyzeBody)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	userID := r.FormValue("userId")
	if !middleware.PeerMatches(r, userID) {
		writeError(w, http.StatusForbidden, CodeForbidden, peerMismatch)
		return
	}

	files := slices.Concat(r.MultipartForm.File["image"], r.MultipartForm.File["images"])
	images, err := readImages(files)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidImage, err.Error())
		return
	}

	mode := models.AnalysisKind(r.FormValue("mode"))
	if mode == "" {
		mode = models.SingleAnalysis
		if len(images) > 1 {
			mode = models.CompareAnalysis
		}
	}

	res, err := h.AnalysisService.Analyze(r.Context(), service.AnalysisRequest{
		UserID:      userID,
		Kind:        mode,
		Occasion:    r.FormValue("occasion"),
		Preferences: r.FormValue("preferences"),
		Images:      images,
	})
	if err != nil {
		writeServiceError(w, r, h.Log, err)
		return
	}

	c := res.Consultation
	writeJSON(w, http.StatusOK, analysisResponse{
		Status: "success",
		Advice: c.Advice,
		Metadata: analysisMetadata{
			ConsultationID: c.ID,
			Balance:        res.Balance,
			Timestamp:      c.CreatedAt,
			ImagesCount:    c.ImagesCount,
			Mode:           string(c.Kind),
		},
	})
}

func readImages(files []*multipart.FileHeader) ([]models.Image, error) {
	images := make([]models.Image, 0, len(files))
	for i, fh := range files {
		if fh.Size > service.MaxImageBytes {
			return nil, fmt.Errorf("photo %d is larger than 10 MB", i+1)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("photo %d could not be read", i+1)
		}
		data, err := io.ReadAll(io.LimitReader(f, service.MaxImageBytes+1))
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("photo %d could not be read", i+1)
		}
		images = append(images, models.Image{
			Name:     fh.Filename,
			MIMEType: fh.Header.Get("Content-Type"),
			Data:     data,
		})
	}
	return images, nil
}
