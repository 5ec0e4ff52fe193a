// Package advisor produces styling advice for outfit photos.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mishura/stylist/internal/models"
)

// ErrUnavailable means no advice could be produced right now. The user is not charged.
var ErrUnavailable = errors.New("advisor unavailable")

// Request is one analysis to perform.
type Request struct {
	Kind        models.AnalysisKind
	Occasion    string
	Preferences string
	Images      []models.Image
}

// Advisor turns photos into advice text.
type Advisor interface {
	Advise(ctx context.Context, req Request) (string, error)
}

// Unavailable is used when no model is configured.
type Unavailable struct{}

// Advise always fails with ErrUnavailable.
func (Unavailable) Advise(context.Context, Request) (string, error) {
	return "", ErrUnavailable
}

// errorMarkers are phrases models put into a reply instead of advice when
// they fail; such replies must not be sold to the user.
var errorMarkers = []string{
	"ошибка", "error", "не удалось", "failed",
	"недоступно", "unavailable", "превышен лимит",
	"не инициализирован", "not initialized",
}

// LooksLikeError reports whether the opening line of text reads as a failure
// message rather than advice.
func LooksLikeError(text string) bool {
	first, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	lower := strings.ToLower(first)
	for _, m := range errorMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func prompt(req Request) string {
	prefs := "не указаны"
	if p := strings.TrimSpace(req.Preferences); p != "" {
		prefs = p
	}

	var b strings.Builder
	b.WriteString("Ты Мишура, дружелюбный ИИ-стилист. Отвечай по-русски в Markdown, кратко и по делу.\n\n")
	fmt.Fprintf(&b, "Повод: %s\nПредпочтения: %s\n\n", req.Occasion, prefs)

	if req.Kind == models.CompareAnalysis {
		fmt.Fprintf(&b, "На фото %d вариантов одежды, пронумеруй их как «Предмет 1», «Предмет 2» и так далее.\n", len(req.Images))
		b.WriteString("### Краткий обзор\nОдна-две характеристики каждого предмета.\n")
		b.WriteString("### Сравнение для этого повода\nПо одному предложению о плюсах и минусах каждого.\n")
		b.WriteString("### Итоговая рекомендация\nКакой предмет лучше и почему, плюс один совет по стилизации.\n")
		return b.String()
	}

	b.WriteString("### Описание вещи\nТип, крой, цвет или принт, вероятный материал, заметные детали.\n")
	b.WriteString("### Оценка для повода\nНасколько вещь подходит и как её лучше обыграть.\n")
	b.WriteString("### Сочетания\nОдин-два готовых образа и ключевые аксессуары.\n")
	b.WriteString("### Общее впечатление\nОдно-два предложения, включая сезонность.\n")
	return b.String()
}
