package main

import (
	"context"
	"database/sql"
	"fmt"
)

const catalogSchema = `
CREATE TABLE IF NOT EXISTS products (
    id            INTEGER   PRIMARY KEY,
    name          TEXT      NOT NULL,
    image_url     TEXT      NOT NULL,
    price         REAL      NOT NULL
);
`

// Product is one catalog row, as rendered by the products partial.
type Product struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	ImageURL string  `json:"image_url"`
	Price    float64 `json:"price"`
}

var seedProducts = []Product{
	{1, "Lorem ipsum dolor", "https://picsum.photos/210/300", 39.99},
	{2, "Donec rutrum dui", "https://picsum.photos/220/300", 59.99},
	{3, "Mauris imperdiet massa", "https://picsum.photos/230/300", 29.99},
	{4, "Sed tristique tellus", "https://picsum.photos/240/300", 9.99},
	{5, "Vivamus tempus", "https://picsum.photos/250/300", 49.99},
	{6, "Aliquam rutrum viverra", "https://picsum.photos/260/300", 19.99},
}

// productOrder maps the accepted orderby values to columns. Anything else sorts by id.
var productOrder = map[string]string{
	"id":    "id",
	"name":  "name",
	"price": "price",
}

// Catalog serves the demo product list that the "products" shortcode fetches.
type Catalog struct {
	db *sql.DB
}

func setupCatalogSchema(db *sql.DB) error {
	_, err := db.Exec(catalogSchema)
	return err
}

// NewCatalog returns a Catalog over db, seeding it on first use.
func NewCatalog(ctx context.Context, db *sql.DB) (*Catalog, error) {
	c := &Catalog{db: db}
	if err := c.seed(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) seed(ctx context.Context) error {
	var count int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products").Scan(&count); err != nil {
		return fmt.Errorf("failed to count products: %w", err)
	}
	if count > 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	for _, p := range seedProducts {
		_, err = tx.ExecContext(ctx, "INSERT INTO products (id, name, image_url, price) VALUES (?, ?, ?, ?)",
			p.ID, p.Name, p.ImageURL, p.Price)
		if err != nil {
			return fmt.Errorf("failed to seed product %d: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// List returns up to limit products sorted by orderBy.
func (c *Catalog) List(ctx context.Context, orderBy string, limit int) ([]Product, error) {
	column, ok := productOrder[orderBy]
	if !ok {
		column = "id"
	}
	if limit < 0 {
		limit = 0
	}

	rows, err := c.db.QueryContext(ctx,
		"SELECT id, name, image_url, price FROM products ORDER BY "+column+", id LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	products := []Product{}
	for rows.Next() {
		var p Product
		if err = rows.Scan(&p.ID, &p.Name, &p.ImageURL, &p.Price); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}
