// Package inventory prices variants and moves their stock.
package inventory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/joao-fontenele/threadline/internal/domain"
)

// Querier is satisfied by *sql.DB and *sql.Tx so stock moves can join a caller's transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Lookup returns the variants found among ids, keyed by variant id. Unknown ids are
// simply absent. Every id must be a valid uuid.
func (r *Repository) Lookup(ctx context.Context, variantIDs []string) (map[string]domain.VariantStock, error) {
	out := make(map[string]domain.VariantStock, len(variantIDs))
	if len(variantIDs) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT v.id, v.product_id, p.name, v.size, v.color, v.price, v.stock,
		       p.is_active AND NOT p.is_draft, p.is_customizable
		FROM product_variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.id = ANY($1::uuid[])
	`, pq.Array(variantIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var v domain.VariantStock
		if err := rows.Scan(&v.VariantID, &v.ProductID, &v.ProductName, &v.Size, &v.Color,
			&v.Price, &v.Stock, &v.Purchasable, &v.IsCustomizable); err != nil {
			return nil, err
		}
		out[v.VariantID] = v
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// Decrement takes qty units once the order is paid. Stock floors at zero.
func Decrement(ctx context.Context, q Querier, variantID string, qty int) error {
	return adjust(ctx, q, `
		UPDATE product_variants
		SET stock = GREATEST(stock - $2, 0), updated_at = NOW()
		WHERE id = $1
	`, variantID, qty)
}

func Restock(ctx context.Context, q Querier, variantID string, qty int) error {
	return adjust(ctx, q, `
		UPDATE product_variants
		SET stock = stock + $2, updated_at = NOW()
		WHERE id = $1
	`, variantID, qty)
}

func adjust(ctx context.Context, q Querier, query, variantID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
	}

	_, err := q.ExecContext(ctx, query, variantID, qty)
	return err
}
