package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/mishura/stylist/internal/client/account"
	"github.com/mishura/stylist/internal/client/api"
	"github.com/mishura/stylist/internal/client/submit"
)

// MaxImageBytes is the largest photo the backend accepts.
const MaxImageBytes = 10 << 20

var errInputClosed = errors.New("input closed")

// Reasons a photo is refused before upload.
var (
	ErrImageUnreadable = errors.New("image unreadable")
	ErrImageEmpty      = errors.New("image empty")
	ErrImageTooLarge   = errors.New("image too large")
	ErrNotAnImage      = errors.New("not an image")
)

// ask prints a prompt and reads one trimmed line.
func ask(in *bufio.Scanner, p *Printer, prompt string) (string, error) {
	p.Printf("%s", prompt)
	if !in.Scan() {
		if err := in.Err(); err != nil {
			return "", err
		}
		return "", errInputClosed
	}
	return strings.TrimSpace(in.Text()), nil
}

// PromptAnalysis asks for the photos, the occasion and the preferences.
// Image files that cannot be read are reported as validation errors.
func PromptAnalysis(in *bufio.Scanner, p *Printer, kind account.AnalysisKind) (submit.Request, error) {
	req := submit.Request{Kind: kind}

	prompt := "Photo path: "
	if kind == account.Compare {
		prompt = fmt.Sprintf("Photo paths separated by spaces (%d-%d): ", submit.MinCompareImages, submit.MaxCompareImages)
	}
	line, err := ask(in, p, prompt)
	if err != nil {
		return req, err
	}
	for i, path := range strings.Fields(line) {
		img, err := LoadImage(path)
		if err != nil {
			return req, &api.Error{Kind: api.KindValidation, Op: "load image", Message: imageMessage(i+1, err), Err: err}
		}
		req.Images = append(req.Images, img)
	}

	if req.Occasion, err = ask(in, p, "Occasion (work, date, party...): "); err != nil {
		return req, err
	}
	if req.Preferences, err = ask(in, p, "Preferences (optional): "); err != nil {
		return req, err
	}
	return req, nil
}

// imageMessage is the user text for a refused photo; details stay in the error chain.
func imageMessage(n int, err error) string {
	switch {
	case errors.Is(err, ErrImageEmpty):
		return fmt.Sprintf("Photo %d is empty.", n)
	case errors.Is(err, ErrImageTooLarge):
		return fmt.Sprintf("Photo %d is larger than %d MB.", n, MaxImageBytes>>20)
	case errors.Is(err, ErrNotAnImage):
		return fmt.Sprintf("Photo %d is not an image.", n)
	default:
		return fmt.Sprintf("Photo %d could not be read.", n)
	}
}

// LoadImage reads a photo from disk and checks that it is an image of acceptable size.
func LoadImage(path string) (api.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return api.Image{}, fmt.Errorf("%w: %w", ErrImageUnreadable, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxImageBytes+1))
	if err != nil {
		return api.Image{}, fmt.Errorf("%w: %w", ErrImageUnreadable, err)
	}
	if len(data) == 0 {
		return api.Image{}, fmt.Errorf("%w: %s", ErrImageEmpty, path)
	}
	if len(data) > MaxImageBytes {
		return api.Image{}, fmt.Errorf("%w: %s", ErrImageTooLarge, path)
	}
	ct := http.DetectContentType(data)
	if !strings.HasPrefix(ct, "image/") {
		return api.Image{}, fmt.Errorf("%w: %s is %s", ErrNotAnImage, path, ct)
	}
	return api.Image{Name: filepath.Base(path), ContentType: ct, Data: data}, nil
}
