package api

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/mishura/stylist/internal/client/account"
)

// Image is one uploaded outfit photo.
type Image struct {
	Name        string
	ContentType string
	Data        []byte
}

// AnalysisRequest describes one analysis or comparison.
type AnalysisRequest struct {
	UserID      string
	Kind        account.AnalysisKind
	Images      []Image
	Occasion    string
	Preferences string
}

// AnalysisResult is the confirmed outcome of SubmitAnalysis.
type AnalysisResult struct {
	AdviceText     string
	ConsultationID string
	// Balance is the post-debit balance if the backend reported one.
	Balance     *int
	CreatedAt   time.Time
	ImagesCount int
}

type analysisMetadata struct {
	ConsultationID string    `json:"consultationId"`
	Balance        *int      `json:"balance"`
	Timestamp      time.Time `json:"timestamp"`
	ImagesCount    int       `json:"imagesCount"`
}

type analysisResponse struct {
	Status   string           `json:"status"`
	Advice   string           `json:"advice"`
	Metadata analysisMetadata `json:"metadata"`
}

// SubmitAnalysis uploads the images and waits for advice. The balance debit happens on
// the server as part of this call. No request timeout is applied here; callers bound
// the wait themselves.
func (c *Client) SubmitAnalysis(ctx context.Context, r AnalysisRequest) (*AnalysisResult, error) {
	const op = "submit analysis"

	body, contentType, err := encodeAnalysis(r)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Op: op, Message: "could not read images", Err: err}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+apiAnalyze, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindServer, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	var resp analysisResponse
	if err := c.call(ctx, op, req, KindServer, &resp); err != nil {
		return nil, err
	}
	if resp.Advice == "" {
		return nil, &Error{Kind: KindServer, Op: op, Endpoint: req.URL.Path, Status: http.StatusOK,
			Err: fmt.Errorf("invalid response: advice missing")}
	}

	res := &AnalysisResult{
		AdviceText:     resp.Advice,
		ConsultationID: resp.Metadata.ConsultationID,
		Balance:        resp.Metadata.Balance,
		CreatedAt:      resp.Metadata.Timestamp,
		ImagesCount:    resp.Metadata.ImagesCount,
	}
	if res.ImagesCount == 0 {
		res.ImagesCount = len(r.Images)
	}
	return res, nil
}

// encodeAnalysis builds the multipart body. Single mode sends the file as "image",
// compare mode as repeated "images".
func encodeAnalysis(r AnalysisRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	field := "images"
	if r.Kind == account.Single {
		field = "image"
	}
	for i, img := range r.Images {
		name := img.Name
		if name == "" {
			name = fmt.Sprintf("image_%d.jpg", i+1)
		}
		ct := img.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, name))
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(img.Data); err != nil {
			return nil, "", err
		}
	}

	fields := [][2]string{
		{"userId", r.UserID},
		{"mode", string(r.Kind)},
		{"occasion", r.Occasion},
		{"preferences", r.Preferences},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
