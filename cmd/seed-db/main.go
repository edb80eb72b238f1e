// Command seed-db loads a demo catalog for local development: a shop, two
// suppliers, a handful of products including one package, shop listings
// with prices and stock, tax rates, and two campaign codes.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-engine/internal/repository"
)

func main() {
	var databaseURL string

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Order matters: listings and rates reference shops, suppliers, products.
	steps := []struct {
		name string
		fn   func(context.Context, *pgxpool.Pool) error
	}{
		{"shops", seedShops},
		{"suppliers", seedSuppliers},
		{"products", seedProducts},
		{"shop products", seedShopProducts},
		{"tax rates", seedTaxRates},
		{"campaigns", seedCampaigns},
	}
	for _, step := range steps {
		if err := step.fn(ctx, pool); err != nil {
			return errors.Wrapf(err, "seed %s", step.name)
		}
	}

	return nil
}

func seedShops(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding shop", slog.String("id", "demo"))

	_, err := pool.Exec(ctx, `
		INSERT INTO shops (id, name, currency, prices_include_tax, minimum_order_total)
		VALUES ('demo', 'Demo Shop', 'EUR', TRUE, 10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, currency = EXCLUDED.currency,
			prices_include_tax = EXCLUDED.prices_include_tax,
			minimum_order_total = EXCLUDED.minimum_order_total`)
	return err
}

func seedSuppliers(ctx context.Context, pool *pgxpool.Pool) error {
	suppliers := []struct{ id, name string }{
		{"acme", "Acme Wholesale"},
		{"globex", "Globex Trading"},
	}

	for _, s := range suppliers {
		if _, err := pool.Exec(ctx, `
			INSERT INTO suppliers (id, name) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
			s.id, s.name,
		); err != nil {
			return errors.Wrapf(err, "upsert supplier %s", s.id)
		}

		slog.Info("upserted supplier", slog.String("id", s.id))
	}

	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool) error {
	products := []struct {
		id, sku, name, taxClass, unitSymbol string
		unitDecimals                        int
	}{
		{"espresso-beans", "SKU-BEANS", "Espresso Beans 1kg", "standard", "pcs", 0},
		{"filter-paper", "SKU-FILTER", "Filter Paper 100pc", "standard", "pcs", 0},
		{"cold-brew", "SKU-BREW", "Cold Brew Concentrate", "reduced", "l", 2},
		{"starter-kit", "SKU-KIT", "Home Barista Starter Kit", "standard", "pcs", 0},
	}

	for _, p := range products {
		if _, err := pool.Exec(ctx, `
			INSERT INTO products (id, sku, name, tax_class_id, unit_symbol, unit_decimals)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				sku = EXCLUDED.sku, name = EXCLUDED.name,
				tax_class_id = EXCLUDED.tax_class_id,
				unit_symbol = EXCLUDED.unit_symbol, unit_decimals = EXCLUDED.unit_decimals`,
			p.id, p.sku, p.name, p.taxClass, p.unitSymbol, p.unitDecimals,
		); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.id)
		}

		slog.Info("upserted product", slog.String("id", p.id), slog.String("name", p.name))
	}

	// The starter kit is a package: two bean bags and one filter pack.
	children := []struct {
		child string
		qty   decimal.Decimal
	}{
		{"espresso-beans", decimal.NewFromInt(2)},
		{"filter-paper", decimal.NewFromInt(1)},
	}
	for _, c := range children {
		if _, err := pool.Exec(ctx, `
			INSERT INTO product_children (parent_id, child_id, quantity)
			VALUES ('starter-kit', $1, $2)
			ON CONFLICT (parent_id, child_id) DO UPDATE SET quantity = EXCLUDED.quantity`,
			c.child, c.qty,
		); err != nil {
			return errors.Wrapf(err, "upsert package child %s", c.child)
		}
	}

	return nil
}

func seedShopProducts(ctx context.Context, pool *pgxpool.Pool) error {
	listings := []struct {
		product, supplier string
		price             string
		stock             *string
	}{
		{"espresso-beans", "acme", "14.90", ptr("120")},
		{"filter-paper", "acme", "4.50", ptr("300")},
		{"cold-brew", "globex", "6.80", ptr("48.5")},
		{"starter-kit", "acme", "39.00", nil},
	}

	for _, l := range listings {
		if _, err := pool.Exec(ctx, `
			INSERT INTO shop_products (shop_id, product_id, supplier_id, price, stock, orderable)
			VALUES ('demo', $1, $2, $3, $4, TRUE)
			ON CONFLICT (shop_id, product_id, supplier_id) DO UPDATE SET
				price = EXCLUDED.price, stock = EXCLUDED.stock, orderable = TRUE`,
			l.product, l.supplier, l.price, l.stock,
		); err != nil {
			return errors.Wrapf(err, "upsert listing %s", l.product)
		}

		slog.Info("upserted listing", slog.String("product", l.product), slog.String("price", l.price))
	}

	return nil
}

func seedTaxRates(ctx context.Context, pool *pgxpool.Pool) error {
	rates := []struct {
		id, taxClass, name, rate string
	}{
		{"vat-standard", "standard", "VAT 24%", "0.24"},
		{"vat-reduced", "reduced", "VAT 14%", "0.14"},
		{"vat-shipping", "shipping", "VAT 24%", "0.24"},
		{"vat-payment", "payment", "VAT 24%", "0.24"},
	}

	for _, r := range rates {
		if _, err := pool.Exec(ctx, `
			INSERT INTO tax_rates (id, shop_id, tax_class_id, name, rate)
			VALUES ($1, 'demo', $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				tax_class_id = EXCLUDED.tax_class_id, name = EXCLUDED.name, rate = EXCLUDED.rate`,
			r.id, r.taxClass, r.name, r.rate,
		); err != nil {
			return errors.Wrapf(err, "upsert tax rate %s", r.id)
		}

		slog.Info("upserted tax rate", slog.String("id", r.id), slog.String("rate", r.rate))
	}

	return nil
}

func seedCampaigns(ctx context.Context, pool *pgxpool.Pool) error {
	campaigns := []struct {
		code, discountType, value, description string
		minItems                               int
	}{
		{"HAPPYHOURS", "percentage", "18", "Happy Hours: 18% off entire order", 0},
		{"BUYGETONE", "free_lowest", "0", "Buy one get one: lowest priced item free", 2},
	}

	for _, c := range campaigns {
		if _, err := pool.Exec(ctx, `
			INSERT INTO campaigns (code, discount_type, value, min_items, description, active)
			VALUES ($1, $2, $3, $4, $5, TRUE)
			ON CONFLICT (code) DO UPDATE SET
				discount_type = EXCLUDED.discount_type, value = EXCLUDED.value,
				min_items = EXCLUDED.min_items, description = EXCLUDED.description, active = TRUE`,
			c.code, c.discountType, c.value, c.minItems, c.description,
		); err != nil {
			return errors.Wrapf(err, "upsert campaign %s", c.code)
		}

		slog.Info("upserted campaign", slog.String("code", c.code))
	}

	return nil
}

func ptr(s string) *string { return &s }
