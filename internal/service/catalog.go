package service

import "github.com/mishura/stylist/internal/models"

// DefaultCatalog returns the STcoin packages on sale.
func DefaultCatalog() map[string]models.Package {
	return map[string]models.Package{
		"basic": {
			ID: "basic", Name: "Базовый", Price: 150, Stcoins: 100, Consultations: 10,
			Description: "10 консультаций для знакомства с Мишурой",
		},
		"premium": {
			ID: "premium", Name: "Премиум", Price: 300, Stcoins: 250, Consultations: 25,
			Description: "25 консультаций, самый выгодный выбор", Popular: true,
		},
		"vip": {
			ID: "vip", Name: "VIP", Price: 500, Stcoins: 500, Consultations: 50,
			Description: "50 консультаций для тех, кто следит за стилем каждый день",
		},
	}
}
