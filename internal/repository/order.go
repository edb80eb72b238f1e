package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/checkout-engine/internal/domain/assembly"
	"github.com/xenking/checkout-engine/internal/domain/source"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, shop_id, currency, prices_include_tax,
		customer_id, orderer_id, creator_id, modified_by_id, creator_ip,
		shipping_method_id, payment_method_id, customer_comment,
		require_verification, all_verified, taxful_total, taxless_total,
		codes, billing_address, shipping_address, payment_data, shipping_data, extra_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`

	updateOrderSQL = `UPDATE orders SET
		customer_id = $2, orderer_id = $3, modified_by_id = $4,
		shipping_method_id = $5, payment_method_id = $6,
		customer_comment = $7, require_verification = $8, all_verified = $9,
		taxful_total = $10, taxless_total = $11, codes = $12,
		billing_address = $13, shipping_address = $14,
		payment_data = $15, shipping_data = $16, extra_data = $17
		WHERE id = $1`

	getOrderSQL = `SELECT id, shop_id, currency, prices_include_tax, customer_id, orderer_id,
		creator_id, modified_by_id, creator_ip, shipping_method_id, payment_method_id,
		customer_comment, require_verification, all_verified, taxful_total, taxless_total,
		codes, billing_address, shipping_address, payment_data, shipping_data, extra_data, created_at
		FROM orders WHERE id = $1`

	insertOrderLineSQL = `INSERT INTO order_lines (id, order_id, parent_id, ordering, type,
		product_id, supplier_id, shop_id, sku, text, quantity, base_unit_price,
		discount_amount, tax_class_id, require_verification, provenance, extra)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	insertLineTaxSQL = `INSERT INTO order_line_taxes (line_id, tax_id, name, rate, base_value, tax_value)
		VALUES ($1, $2, $3, $4, $5, $6)`

	selectOrderLinesSQL = `SELECT id, order_id, parent_id, ordering, type, product_id,
		supplier_id, shop_id, sku, text, quantity, base_unit_price, discount_amount,
		tax_class_id, require_verification, provenance
		FROM order_lines WHERE order_id = $1 ORDER BY ordering`

	deleteOrderLinesSQL = `DELETE FROM order_lines WHERE order_id = $1`
)

var _ assembly.Repository = (*OrderRepository)(nil)

// OrderRepository implements assembly.Repository backed by PostgreSQL. Every
// assembly runs inside one database transaction.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// InTx implements assembly.Repository.
func (r *OrderRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx assembly.Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &orderTx{tx: tx})
	})
}

// orderTx maps assembly.Tx onto one pgx transaction.
type orderTx struct {
	tx pgx.Tx
}

var _ assembly.Tx = (*orderTx)(nil)

func (t *orderTx) SaveOrder(ctx context.Context, o *assembly.Order) error {
	_, err := t.tx.Exec(ctx, insertOrderSQL,
		o.ID, o.ShopID, o.Currency, o.PricesIncludeTax,
		o.CustomerID, o.OrdererID, o.CreatorID, o.ModifiedByID, o.CreatorIP,
		o.ShippingMethodID, o.PaymentMethodID,
		o.CustomerComment, o.RequireVerification, o.AllVerified, o.TaxfulTotal, o.TaxlessTotal,
		o.Codes, encodeAddressJSON(o.BillingAddress), encodeAddressJSON(o.ShippingAddress),
		encodeMapJSON(o.PaymentData), encodeMapJSON(o.ShippingData), encodeMapJSON(o.ExtraData),
		o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting order %q: %w", o.ID, err)
	}
	return nil
}

func (t *orderTx) UpdateOrder(ctx context.Context, o *assembly.Order) error {
	_, err := t.tx.Exec(ctx, updateOrderSQL,
		o.ID, o.CustomerID, o.OrdererID, o.ModifiedByID, o.ShippingMethodID, o.PaymentMethodID,
		o.CustomerComment, o.RequireVerification, o.AllVerified,
		o.TaxfulTotal, o.TaxlessTotal, o.Codes,
		encodeAddressJSON(o.BillingAddress), encodeAddressJSON(o.ShippingAddress),
		encodeMapJSON(o.PaymentData), encodeMapJSON(o.ShippingData), encodeMapJSON(o.ExtraData),
	)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	return nil
}

func (t *orderTx) LoadOrder(ctx context.Context, orderID string) (*assembly.Order, error) {
	var (
		o            assembly.Order
		billing      []byte
		shipping     []byte
		paymentData  []byte
		shippingData []byte
		extraData    []byte
	)
	err := t.tx.QueryRow(ctx, getOrderSQL, orderID).Scan(
		&o.ID, &o.ShopID, &o.Currency, &o.PricesIncludeTax, &o.CustomerID, &o.OrdererID,
		&o.CreatorID, &o.ModifiedByID, &o.CreatorIP,
		&o.ShippingMethodID, &o.PaymentMethodID, &o.CustomerComment,
		&o.RequireVerification, &o.AllVerified, &o.TaxfulTotal, &o.TaxlessTotal, &o.Codes,
		&billing, &shipping, &paymentData, &shippingData, &extraData, &o.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading order %q: %w", orderID, err)
	}

	if o.BillingAddress, err = decodeAddressJSON(billing); err != nil {
		return nil, fmt.Errorf("decoding billing address of order %q: %w", orderID, err)
	}
	if o.ShippingAddress, err = decodeAddressJSON(shipping); err != nil {
		return nil, fmt.Errorf("decoding shipping address of order %q: %w", orderID, err)
	}
	if o.PaymentData, err = decodeMapJSON(paymentData); err != nil {
		return nil, fmt.Errorf("decoding payment data of order %q: %w", orderID, err)
	}
	if o.ShippingData, err = decodeMapJSON(shippingData); err != nil {
		return nil, fmt.Errorf("decoding shipping data of order %q: %w", orderID, err)
	}
	if o.ExtraData, err = decodeMapJSON(extraData); err != nil {
		return nil, fmt.Errorf("decoding extra data of order %q: %w", orderID, err)
	}

	rows, err := t.tx.Query(ctx, selectOrderLinesSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("selecting lines of order %q: %w", orderID, err)
	}
	if o.Lines, err = pgx.CollectRows(rows, scanOrderLine); err != nil {
		return nil, fmt.Errorf("scanning lines of order %q: %w", orderID, err)
	}
	return &o, nil
}

func (t *orderTx) SaveLines(ctx context.Context, lines []*assembly.OrderLine) error {
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(insertOrderLineSQL,
			l.ID, l.OrderID, l.ParentID, l.Ordering, string(l.Type),
			l.ProductID, l.SupplierID, l.ShopID, l.SKU, l.Text,
			l.Quantity, l.BaseUnitPrice, l.DiscountAmount,
			l.TaxClassID, l.RequireVerification, string(l.Provenance),
			encodeMapJSON(l.Extra),
		)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting order lines: %w", err)
	}
	return nil
}

func (t *orderTx) SaveLineTaxes(ctx context.Context, lineID string, taxes []assembly.LineTax) error {
	batch := &pgx.Batch{}
	for _, tax := range taxes {
		batch.Queue(insertLineTaxSQL, lineID, tax.TaxID, tax.Name, tax.Rate, tax.BaseValue, tax.TaxValue)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting taxes of line %q: %w", lineID, err)
	}
	return nil
}

// DeleteLines removes the order's lines, cascading through their tax
// records, and returns them for stock reconciliation.
func (t *orderTx) DeleteLines(ctx context.Context, orderID string) ([]*assembly.OrderLine, error) {
	rows, err := t.tx.Query(ctx, selectOrderLinesSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("selecting lines of order %q: %w", orderID, err)
	}
	old, err := pgx.CollectRows(rows, scanOrderLine)
	if err != nil {
		return nil, fmt.Errorf("scanning lines of order %q: %w", orderID, err)
	}

	if _, err := t.tx.Exec(ctx, deleteOrderLinesSQL, orderID); err != nil {
		return nil, fmt.Errorf("deleting lines of order %q: %w", orderID, err)
	}
	return old, nil
}

func scanOrderLine(row pgx.CollectableRow) (*assembly.OrderLine, error) {
	var (
		l          assembly.OrderLine
		lineType   string
		provenance string
	)
	err := row.Scan(
		&l.ID, &l.OrderID, &l.ParentID, &l.Ordering, &lineType, &l.ProductID,
		&l.SupplierID, &l.ShopID, &l.SKU, &l.Text, &l.Quantity, &l.BaseUnitPrice,
		&l.DiscountAmount, &l.TaxClassID, &l.RequireVerification, &provenance,
	)
	l.Type = source.LineType(lineType)
	l.Provenance = source.Provenance(provenance)
	return &l, err
}
