package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mishura/stylist/internal/advisor"
	"github.com/mishura/stylist/internal/models"
)

const (
	MaxImageBytes    = 10 << 20
	MinCompareImages = 2
	MaxCompareImages = 5
)

// AnalysisRequest is one paid analysis.
type AnalysisRequest struct {
	UserID      string
	Kind        models.AnalysisKind
	Occasion    string
	Preferences string
	Images      []models.Image
}

// AnalysisResult is the stored consultation and the balance after the debit.
type AnalysisResult struct {
	Consultation models.Consultation
	Balance      int
}

// AnalysisService charges for and produces consultations.
type AnalysisService struct {
	users   UserRepository
	advisor advisor.Advisor
	cost    int
	log     *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewAnalysisService constructs an AnalysisService.
func NewAnalysisService(users UserRepository, adv advisor.Advisor, cost int, log *zap.Logger) *AnalysisService {
	return &AnalysisService{
		users:   users,
		advisor: adv,
		cost:    cost,
		log:     log,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Analyze validates the request, asks the advisor and debits the user. The
// user is charged only when advice was produced.
func (s *AnalysisService) Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}

	u, err := s.users.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if u.Balance < s.cost {
		return nil, ErrInsufficientBalance
	}

	started := s.now()
	text, err := s.advisor.Advise(ctx, advisor.Request{
		Kind:        req.Kind,
		Occasion:    req.Occasion,
		Preferences: req.Preferences,
		Images:      req.Images,
	})
	if err != nil {
		s.log.Error("advice failed", zap.String("user", req.UserID), zap.Error(err))
		return nil, err
	}
	if advisor.LooksLikeError(text) {
		s.log.Warn("advisor replied with an error text", zap.String("user", req.UserID))
		return nil, advisor.ErrUnavailable
	}

	c := models.Consultation{
		ID:          s.newID(),
		UserID:      req.UserID,
		Kind:        req.Kind,
		Occasion:    req.Occasion,
		Preferences: req.Preferences,
		Advice:      text,
		ImagesCount: len(req.Images),
		Cost:        s.cost,
		CreatedAt:   s.now().UTC(),
	}
	balance, err := s.users.ChargeConsultation(ctx, c)
	if err != nil {
		return nil, err
	}
	s.log.Info("consultation completed",
		zap.String("user", req.UserID),
		zap.String("kind", string(req.Kind)),
		zap.Int("images", len(req.Images)),
		zap.Duration("took", s.now().Sub(started)),
	)
	return &AnalysisResult{Consultation: c, Balance: balance}, nil
}

func (s *AnalysisService) validate(req *AnalysisRequest) error {
	if err := checkUserID(req.UserID); err != nil {
		return err
	}
	req.Occasion = strings.TrimSpace(req.Occasion)
	req.Preferences = strings.TrimSpace(req.Preferences)
	if req.Occasion == "" {
		return fmt.Errorf("%w: occasion is required", ErrInvalidRequest)
	}

	n := len(req.Images)
	switch req.Kind {
	case models.SingleAnalysis:
		if n != 1 {
			return fmt.Errorf("%w: single analysis takes exactly one photo", ErrInvalidRequest)
		}
	case models.CompareAnalysis:
		if n < MinCompareImages || n > MaxCompareImages {
			return fmt.Errorf("%w: comparison takes %d to %d photos", ErrInvalidRequest, MinCompareImages, MaxCompareImages)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Kind)
	}

	for i := range req.Images {
		img := &req.Images[i]
		switch {
		case len(img.Data) == 0:
			return fmt.Errorf("%w: photo %d is empty", ErrInvalidImage, i+1)
		case len(img.Data) > MaxImageBytes:
			return fmt.Errorf("%w: photo %d is larger than 10 MB", ErrInvalidImage, i+1)
		}
		sniffed := http.DetectContentType(img.Data)
		if !strings.HasPrefix(sniffed, "image/") {
			return fmt.Errorf("%w: photo %d is not an image", ErrInvalidImage, i+1)
		}
		img.MIMEType = sniffed
	}
	return nil
}
