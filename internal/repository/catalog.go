// internal/repository/catalog.go
package repository

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/javajoker/keyshop-backend/internal/models"
)

// CatalogRepository reads the storefront catalogue and promo codes.
type CatalogRepository struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// FindProduct accepts either the product id or its slug.
func (r *CatalogRepository) FindProduct(ctx context.Context, idOrSlug string) (*models.Product, error) {
	var product models.Product
	query := r.db.WithContext(ctx)
	if id, err := uuid.Parse(idOrSlug); err == nil {
		query = query.Where("id = ?", id)
	} else {
		query = query.Where("slug = ?", strings.ToLower(strings.TrimSpace(idOrSlug)))
	}
	if err := query.First(&product).Error; err != nil {
		return nil, notFound(err, "Product not found")
	}
	return &product, nil
}

func (r *CatalogRepository) FindPromo(ctx context.Context, code string) (*models.PromoCode, error) {
	var promo models.PromoCode
	err := r.db.WithContext(ctx).
		Where("code = ?", strings.ToUpper(strings.TrimSpace(code))).
		First(&promo).Error
	if err != nil {
		return nil, notFound(err, "Promo code not found")
	}
	return &promo, nil
}
