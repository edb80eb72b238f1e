package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-engine/internal/domain/catalog"
	"github.com/xenking/checkout-engine/internal/domain/source"
)

const (
	getShopSQL = `SELECT id, name, currency, prices_include_tax, minimum_order_total
		FROM shops WHERE id = $1`

	getProductSQL = `SELECT id, sku, name, tax_class_id, unit_symbol, unit_decimals
		FROM products WHERE id = $1`

	getProductChildrenSQL = `SELECT child_id, quantity FROM product_children WHERE parent_id = $1`

	getSupplierSQL = `SELECT id, name FROM suppliers WHERE id = $1`

	getShopProductSQL = `SELECT stock, orderable FROM shop_products
		WHERE shop_id = $1 AND product_id = $2 AND supplier_id = $3`
)

// ErrShopNotFound is returned when a shop id has no row.
var ErrShopNotFound = errors.New("shop not found")

var (
	_ source.CatalogResolver    = (*CatalogRepository)(nil)
	_ source.OrderabilityOracle = (*CatalogRepository)(nil)
)

// CatalogRepository reads shops, products, and suppliers from PostgreSQL. It
// doubles as the orderability oracle, answering stock checks from the
// shop_products table.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// Shop returns a shop by id, or ErrShopNotFound.
func (r *CatalogRepository) Shop(ctx context.Context, id string) (*catalog.Shop, error) {
	var s catalog.Shop
	err := r.pool.QueryRow(ctx, getShopSQL, id).Scan(
		&s.ID, &s.Name, &s.Currency, &s.PricesIncludeTax, &s.MinimumOrderTotal,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrShopNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting shop %q: %w", id, err)
	}
	return &s, nil
}

// Product implements source.CatalogResolver, loading package children along
// with the product row.
func (r *CatalogRepository) Product(ctx context.Context, id string) (*catalog.Product, error) {
	var p catalog.Product
	err := r.pool.QueryRow(ctx, getProductSQL, id).Scan(
		&p.ID, &p.SKU, &p.Name, &p.TaxClassID, &p.Unit.Symbol, &p.Unit.Decimals,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, source.Issue{Code: source.CodeNoProduct, Message: "product not found", ProductID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	rows, err := r.pool.Query(ctx, getProductChildrenSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting children of product %q: %w", id, err)
	}
	children, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (childRow, error) {
		var c childRow
		err := row.Scan(&c.id, &c.quantity)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("getting children of product %q: %w", id, err)
	}
	if len(children) > 0 {
		p.Children = make(map[string]decimal.Decimal, len(children))
		for _, c := range children {
			p.Children[c.id] = c.quantity
		}
	}
	return &p, nil
}

type childRow struct {
	id       string
	quantity decimal.Decimal
}

// Supplier implements source.CatalogResolver.
func (r *CatalogRepository) Supplier(ctx context.Context, id string) (*catalog.Supplier, error) {
	var s catalog.Supplier
	err := r.pool.QueryRow(ctx, getSupplierSQL, id).Scan(&s.ID, &s.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, source.Issue{Code: source.CodeNoSupplier, Message: "supplier not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("getting supplier %q: %w", id, err)
	}
	return &s, nil
}

// IsOrderable implements source.OrderabilityOracle. A NULL stock means the
// product is not stock-tracked and any quantity is accepted.
func (r *CatalogRepository) IsOrderable(ctx context.Context, shopID, supplierID, _ string, product *catalog.Product, quantity decimal.Decimal) bool {
	return len(r.OrderabilityErrors(ctx, shopID, supplierID, "", product, quantity)) == 0
}

// OrderabilityErrors implements source.OrderabilityOracle.
func (r *CatalogRepository) OrderabilityErrors(ctx context.Context, shopID, supplierID, _ string, product *catalog.Product, quantity decimal.Decimal) []source.Issue {
	var (
		stock     *decimal.Decimal
		orderable bool
	)
	err := r.pool.QueryRow(ctx, getShopProductSQL, shopID, product.ID, supplierID).Scan(&stock, &orderable)
	if errors.Is(err, pgx.ErrNoRows) {
		return []source.Issue{{
			Code:      source.CodeProductNotAvailableInShop,
			Message:   fmt.Sprintf("product %s is not available in shop %s", product.ID, shopID),
			ProductID: product.ID,
		}}
	}
	if err != nil {
		return []source.Issue{{
			Code:      source.CodeProductNotOrderable,
			Message:   fmt.Sprintf("orderability check failed: %v", err),
			ProductID: product.ID,
		}}
	}
	if !orderable {
		return []source.Issue{{
			Code:      source.CodeProductNotOrderable,
			Message:   fmt.Sprintf("product %s is not orderable", product.ID),
			ProductID: product.ID,
		}}
	}
	if stock != nil && quantity.GreaterThan(*stock) {
		return []source.Issue{{
			Code:      source.CodeProductNotOrderable,
			Message:   fmt.Sprintf("insufficient stock for product %s: requested %s, available %s", product.ID, quantity, *stock),
			ProductID: product.ID,
		}}
	}
	return nil
}
