package orders

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"strings"
	"time"
)

// maxUpdateRetries bounds the optimistic retry loop of UpdateProduct.
const maxUpdateRetries = 5

type Catalog struct {
	Store Store
	Log   *zap.Logger
	Now   func() time.Time
}

func (c *Catalog) log() *zap.Logger { return loggerOr(c.Log) }

func (c *Catalog) now() time.Time { return nowOr(c.Now) }

func (c *Catalog) GetProduct(ctx context.Context, id string) (Product, error) {
	p, err := c.Store.Catalog().GetProduct(ctx, id)
	if err != nil {
		return Product{}, fmt.Errorf("product %s: %w", id, err)
	}
	return p, nil
}

func (c *Catalog) ListProducts(ctx context.Context) ([]Product, error) {
	return c.Store.Catalog().ListProducts(ctx)
}

// SearchProducts matches q case-insensitively against product names.
func (c *Catalog) SearchProducts(ctx context.Context, q string) ([]Product, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return c.ListProducts(ctx)
	}
	return c.Store.Catalog().SearchProducts(ctx, q)
}

func (c *Catalog) CreateProduct(ctx context.Context, name, description string, price decimal.Decimal, stock int) (Product, error) {
	if strings.TrimSpace(name) == "" {
		return Product{}, fmt.Errorf("%w: name required", ErrInvalidProduct)
	}
	if price.IsNegative() || stock < 0 {
		return Product{}, fmt.Errorf("%w: price and stock must be >= 0", ErrInvalidProduct)
	}
	now := c.now()
	p := Product{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Price:       price,
		Stock:       stock,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.Store.Catalog().CreateProduct(ctx, p); err != nil {
		return Product{}, err
	}
	c.log().Info("product created", zap.String("product_id", p.ID), zap.Int("stock", p.Stock))
	return p, nil
}

// UpdateProduct applies patch on top of the latest version. The store rejects a
// stale version with ErrConflict, in which case we re-read and retry.
func (c *Catalog) UpdateProduct(ctx context.Context, id string, patch ProductPatch) (Product, error) {
	if patch.Price != nil && patch.Price.IsNegative() {
		return Product{}, fmt.Errorf("%w: price must be >= 0", ErrInvalidProduct)
	}
	if patch.Stock != nil && *patch.Stock < 0 {
		return Product{}, fmt.Errorf("%w: stock must be >= 0", ErrInvalidProduct)
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		p, err := c.GetProduct(ctx, id)
		if err != nil {
			return Product{}, err
		}
		if patch.Name != nil {
			p.Name = *patch.Name
		}
		if patch.Description != nil {
			p.Description = *patch.Description
		}
		if patch.Price != nil {
			p.Price = *patch.Price
		}
		if patch.Stock != nil {
			p.Stock = *patch.Stock
		}
		p.UpdatedAt = c.now()

		err = c.Store.Catalog().UpdateProduct(ctx, p)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return Product{}, err
		}
		p.Version++
		return p, nil
	}
	return Product{}, fmt.Errorf("update product %s: %w", id, ErrConflict)
}

func (c *Catalog) DeleteProduct(ctx context.Context, id string) error {
	if err := c.Store.Catalog().DeleteProduct(ctx, id); err != nil {
		return fmt.Errorf("delete product %s: %w", id, err)
	}
	return nil
}

// AdjustStock is the only way stock moves outside of checkout and cancel.
func (c *Catalog) AdjustStock(ctx context.Context, id string, delta int) (Product, error) {
	ctx, span := tracer.Start(ctx, "catalog.adjust_stock", trace.WithAttributes(
		attribute.String("product.id", id),
		attribute.Int("stock.delta", delta),
	))
	defer span.End()

	p, err := c.Store.Catalog().AdjustStock(ctx, id, delta)
	if err != nil {
		return Product{}, recordErr(span, err)
	}
	return p, nil
}
