package models

import (
	"context"
	"errors"
	"time"

	"github.com/pulsaku/voucher_backend/config"
	"github.com/pulsaku/voucher_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is owned by the catalog service. This service only reads it to validate
// allocation and import targets.
type Product struct {
	ID        int             `gorm:"primary_key" json:"id"`
	Name      string          `gorm:"size:100;not null" json:"name"`
	Operator  string          `gorm:"size:50" json:"operator"`
	Price     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price"`
	IsActive  *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name     string          `json:"name" validate:"required,max=100"`
	Operator string          `json:"operator" validate:"max=50"`
	Price    decimal.Decimal `json:"price"`
	IsActive *bool           `json:"is_active"`
}

// ProductLookup reads the catalog. GetProduct backs the allocation gate and must reflect the
// catalog as of now; GetProducts feeds display paths and may be served from cache.
type ProductLookup interface {
	GetProduct(ctx context.Context, id int) (*Product, error)
	GetProducts(ctx context.Context, ids []int) ([]*Product, error)
}

type dbProductLookup struct{}

var productLookup ProductLookup = dbProductLookup{}

func Products() ProductLookup {
	return productLookup
}

// SetProductLookup swaps the product source. Pass nil to restore the database lookup.
func SetProductLookup(l ProductLookup) {
	if l == nil {
		l = dbProductLookup{}
	}
	productLookup = l
}

func cacheProduct(p *Product) {
	if err := utils.StoreRedis[Product](p, p.ID); err != nil {
		config.GetLogger().WithField("product_id", p.ID).Warn("failed to cache product: " + err.Error())
	}
}

// GetProduct always reads the database. The catalog can deactivate a product at any time
// and nothing here is told, so a cached copy is never trusted for allocation.
func (dbProductLookup) GetProduct(ctx context.Context, id int) (*Product, error) {
	db := config.GetDB()
	var result Product
	if err := db.WithContext(ctx).First(&result, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	cacheProduct(&result)
	return &result, nil
}

// GetProducts serves cached products and loads the rest in one query.
func (dbProductLookup) GetProducts(ctx context.Context, ids []int) ([]*Product, error) {
	results := make([]*Product, 0, len(ids))
	missing := make([]int, 0, len(ids))
	for _, id := range ids {
		cached, err := utils.RetrieveRedis[Product](id)
		if err == nil && cached != nil {
			results = append(results, cached)
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return results, nil
	}

	db := config.GetDB()
	var loaded []*Product
	if err := db.WithContext(ctx).Where("id IN ?", missing).Find(&loaded).Error; err != nil {
		return nil, err
	}
	for _, p := range loaded {
		cacheProduct(p)
	}
	return append(results, loaded...), nil
}

// requireActiveProduct resolves productId through the configured lookup and rejects
// missing or inactive products.
func requireActiveProduct(ctx context.Context, productId int) (*Product, error) {
	product, err := productLookup.GetProduct(ctx, productId)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, ErrProductNotFound
	}
	if product.IsActive != nil && !*product.IsActive {
		return nil, ErrProductInactive
	}
	return product, nil
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	product := Product{
		Name:     input.Name,
		Operator: input.Operator,
		Price:    input.Price,
		IsActive: input.IsActive,
	}
	if product.IsActive == nil {
		product.IsActive = utils.NewTrue()
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// FindProductByName is used by the seeding tool to stay idempotent.
func FindProductByName(ctx context.Context, name string) (*Product, error) {
	db := config.GetDB()
	var result Product
	if err := db.WithContext(ctx).Where("name = ?", name).First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &result, nil
}
