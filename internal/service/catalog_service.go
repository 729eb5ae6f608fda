package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrClientNotFound = errors.New("client not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrDuplicateCode  = errors.New("duplicate code")
)

// CatalogService manages products and clients. Product stock is set on
// creation and afterwards only changes through the stock ledger.
type CatalogService struct {
	store  *store.Store
	ledger *StockLedger
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(store *store.Store, ledger *StockLedger) *CatalogService {
	return &CatalogService{store: store, ledger: ledger, logger: util.GetLogger()}
}

// ProductInput carries the editable fields of a product
type ProductInput struct {
	Name        string          `json:"name" binding:"required"`
	Code        string          `json:"code" binding:"required"`
	Description string          `json:"description"`
	CostPrice   decimal.Decimal `json:"cost_price"`
	SalePrice   decimal.Decimal `json:"sale_price"`
	Stock       int             `json:"stock"`
	MinStock    int             `json:"min_stock"`
}

func (in *ProductInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Code = strings.TrimSpace(in.Code)
	switch {
	case in.Name == "" || in.Code == "":
		return fmt.Errorf("%w: name and code are required", ErrInvalidInput)
	case in.CostPrice.IsNegative() || in.SalePrice.IsNegative():
		return fmt.Errorf("%w: prices cannot be negative", ErrInvalidInput)
	case !isCents(in.CostPrice) || !isCents(in.SalePrice):
		return fmt.Errorf("%w: prices cannot have more than two decimals", ErrInvalidInput)
	case in.Stock < 0 || in.MinStock < 0:
		return fmt.Errorf("%w: stock cannot be negative", ErrInvalidInput)
	}
	return nil
}

// CreateProduct adds a product to the catalog
func (c *CatalogService) CreateProduct(ctx context.Context, in *ProductInput) (*models.Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	p := &models.Product{
		Name:        in.Name,
		Code:        in.Code,
		Description: in.Description,
		CostPrice:   in.CostPrice,
		SalePrice:   in.SalePrice,
		Stock:       in.Stock,
		MinStock:    in.MinStock,
		Active:      true,
	}
	if err := c.store.CreateProduct(ctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCode, in.Code)
		}
		return nil, err
	}

	c.logger.Info("Product created", zap.Int64("product_id", p.ID), zap.String("code", p.Code))
	return p, nil
}

// UpdateProduct replaces the master data of a product. in.Stock is ignored.
func (c *CatalogService) UpdateProduct(ctx context.Context, id int64, in *ProductInput) (*models.Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	p, err := c.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Name = in.Name
	p.Code = in.Code
	p.Description = in.Description
	p.CostPrice = in.CostPrice
	p.SalePrice = in.SalePrice
	p.MinStock = in.MinStock

	if err := c.store.UpdateProduct(ctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCode, in.Code)
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, &ProductNotFoundError{ProductID: id}
		}
		return nil, err
	}
	return p, nil
}

// DeactivateProduct hides a product from new sales
func (c *CatalogService) DeactivateProduct(ctx context.Context, id int64) error {
	err := c.store.DeactivateProduct(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return &ProductNotFoundError{ProductID: id}
	}
	if err == nil {
		c.logger.Info("Product deactivated", zap.Int64("product_id", id))
	}
	return err
}

// StockAdjustment is a manual stock correction, e.g. goods received or a
// count discrepancy
type StockAdjustment struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

// AdjustStock applies a stock correction and returns the updated product
func (c *CatalogService) AdjustStock(ctx context.Context, id int64, adj *StockAdjustment) (*models.Product, error) {
	if adj.Delta == 0 {
		return nil, fmt.Errorf("%w: delta must not be zero", ErrInvalidInput)
	}

	var product *models.Product
	err := c.store.RunAtomic(ctx, func(tx *store.Store) error {
		if err := c.ledger.Adjust(ctx, tx, id, adj.Delta); err != nil {
			return err
		}
		var err error
		product, err = tx.GetProductByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("Product stock adjusted",
		zap.Int64("product_id", id),
		zap.Int("delta", adj.Delta),
		zap.Int("stock", product.Stock),
		zap.String("reason", strings.TrimSpace(adj.Reason)))
	return product, nil
}

// GetProduct retrieves a product by ID
func (c *CatalogService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	p, err := c.store.GetProductByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &ProductNotFoundError{ProductID: id}
	}
	return p, err
}

// ListProducts lists the catalog
func (c *CatalogService) ListProducts(ctx context.Context, activeOnly bool) ([]models.Product, error) {
	return c.store.ListProducts(ctx, activeOnly)
}

// ClientInput carries the fields of a new client
type ClientInput struct {
	Name     string `json:"name" binding:"required"`
	Document string `json:"document"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

// CreateClient registers a client
func (c *CatalogService) CreateClient(ctx context.Context, in *ClientInput) (*models.Client, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	client := &models.Client{
		Name:     name,
		Document: strings.TrimSpace(in.Document),
		Email:    strings.TrimSpace(in.Email),
		Phone:    strings.TrimSpace(in.Phone),
		Active:   true,
	}
	if err := c.store.CreateClient(ctx, client); err != nil {
		return nil, err
	}
	return client, nil
}

// GetClient retrieves a client by ID
func (c *CatalogService) GetClient(ctx context.Context, id int64) (*models.Client, error) {
	client, err := c.store.GetClientByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrClientNotFound, id)
	}
	return client, err
}
