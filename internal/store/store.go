// Package store owns durable state for filters, products and ratings.
//
// Ownership boundary:
// - name uniqueness for filters and products
// - value clamping into filter bounds at insertion time
// - timestamp assignment for new ratings
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultPath places the database beneath a relative directory created on
// first open.
var DefaultPath = filepath.Join("database", "db.sqlite3")

var (
	ErrDuplicateName  = errors.New("store: name already exists")
	ErrFilterNotFound = errors.New("store: filter not found")
)

// Store is the single authoritative holder of domain state. It is driven from
// the server loop goroutine and carries no locking of its own.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates the database directory if absent, opens the SQLite file and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("store: create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS filter (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		min_value REAL,
		max_value REAL
	);

	CREATE TABLE IF NOT EXISTS product (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS rating (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL REFERENCES product(id),
		filter_id INTEGER NOT NULL REFERENCES filter(id),
		value REAL NOT NULL,
		address TEXT NOT NULL,
		date TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("store: initialize schema: %w", err)
	}
	return nil
}

// AddFilter persists a new filter. Duplicate names report ErrDuplicateName;
// bound ordering is the caller's responsibility.
func (s *Store) AddFilter(name string, min, max *float64) (Filter, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM filter WHERE name = ?", name).Scan(&n); err != nil {
		return Filter{}, fmt.Errorf("store: lookup filter %q: %w", name, err)
	}
	if n > 0 {
		return Filter{}, ErrDuplicateName
	}
	res, err := s.db.Exec("INSERT INTO filter (name, min_value, max_value) VALUES (?, ?, ?)", name, min, max)
	if err != nil {
		return Filter{}, fmt.Errorf("store: insert filter %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Filter{}, fmt.Errorf("store: filter id: %w", err)
	}
	return Filter{ID: id, Name: name, Min: min, Max: max}, nil
}

// AddProduct persists a new product. Duplicate names report ErrDuplicateName.
func (s *Store) AddProduct(name string) (Product, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM product WHERE name = ?", name).Scan(&n); err != nil {
		return Product{}, fmt.Errorf("store: lookup product %q: %w", name, err)
	}
	if n > 0 {
		return Product{}, ErrDuplicateName
	}
	res, err := s.db.Exec("INSERT INTO product (name) VALUES (?)", name)
	if err != nil {
		return Product{}, fmt.Errorf("store: insert product %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Product{}, fmt.Errorf("store: product id: %w", err)
	}
	return Product{ID: id, Name: name}, nil
}

// AddRating records one evaluation. An unknown filter fails the whole call;
// an unknown product is created as a side effect. The value is clamped into
// the filter bounds and the timestamp is assigned here, not by the caller.
// Returns the full updated rating list for the (product, filter) pair.
func (s *Store) AddRating(productName, filterName string, value float64, address string) ([]Rating, error) {
	f, err := s.FilterNamed(filterName)
	if err != nil {
		return nil, err
	}
	p, ok, err := s.productNamed(productName)
	if err != nil {
		return nil, err
	}
	if !ok {
		p, err = s.AddProduct(productName)
		if err != nil {
			return nil, err
		}
	}
	if f.Min != nil && value < *f.Min {
		value = *f.Min
	}
	if f.Max != nil && value > *f.Max {
		value = *f.Max
	}
	date := s.now()
	_, err = s.db.Exec(
		"INSERT INTO rating (product_id, filter_id, value, address, date) VALUES (?, ?, ?, ?, ?)",
		p.ID, f.ID, value, address, date.Format(DateFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("store: insert rating: %w", err)
	}
	return s.RatingsFor(productName, filterName)
}

// Filters returns all filters in insertion order.
func (s *Store) Filters() ([]Filter, error) {
	rows, err := s.db.Query("SELECT id, name, min_value, max_value FROM filter ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("store: list filters: %w", err)
	}
	defer rows.Close()
	out := []Filter{}
	for rows.Next() {
		var f Filter
		if err := rows.Scan(&f.ID, &f.Name, &f.Min, &f.Max); err != nil {
			return nil, fmt.Errorf("store: scan filter: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Products returns all products in insertion order.
func (s *Store) Products() ([]Product, error) {
	rows, err := s.db.Query("SELECT id, name FROM product ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("store: list products: %w", err)
	}
	defer rows.Close()
	out := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, fmt.Errorf("store: scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RatingsFor returns the ratings of one (product, filter) pair ascending by
// value. Unknown names yield an empty list, not a failure.
func (s *Store) RatingsFor(productName, filterName string) ([]Rating, error) {
	f, err := s.FilterNamed(filterName)
	if errors.Is(err, ErrFilterNotFound) {
		return []Rating{}, nil
	}
	if err != nil {
		return nil, err
	}
	p, ok, err := s.productNamed(productName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Rating{}, nil
	}
	rows, err := s.db.Query(
		"SELECT id, value, address, date FROM rating WHERE product_id = ? AND filter_id = ? ORDER BY value, id",
		p.ID, f.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list ratings: %w", err)
	}
	defer rows.Close()
	out := []Rating{}
	for rows.Next() {
		var r Rating
		var date string
		if err := rows.Scan(&r.ID, &r.Value, &r.Address, &date); err != nil {
			return nil, fmt.Errorf("store: scan rating: %w", err)
		}
		r.Date, err = time.ParseInLocation(DateFormat, date, time.Local)
		if err != nil {
			return nil, fmt.Errorf("store: parse rating date %q: %w", date, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FilterNamed returns the filter with the given name.
func (s *Store) FilterNamed(name string) (Filter, error) {
	var f Filter
	err := s.db.QueryRow(
		"SELECT id, name, min_value, max_value FROM filter WHERE name = ?", name,
	).Scan(&f.ID, &f.Name, &f.Min, &f.Max)
	if errors.Is(err, sql.ErrNoRows) {
		return Filter{}, ErrFilterNotFound
	}
	if err != nil {
		return Filter{}, fmt.Errorf("store: lookup filter %q: %w", name, err)
	}
	return f, nil
}

// SetFilterBounds overwrites a filter's bounds unconditionally. Ratings
// already stored keep the values they were clamped to; this inconsistency
// window is accepted behavior.
func (s *Store) SetFilterBounds(name string, min, max *float64) error {
	_, err := s.db.Exec("UPDATE filter SET min_value = ?, max_value = ? WHERE name = ?", min, max, name)
	if err != nil {
		return fmt.Errorf("store: update filter bounds %q: %w", name, err)
	}
	return nil
}

// DeleteProduct removes a product by name. No request handler reaches this;
// it is a store primitive only.
func (s *Store) DeleteProduct(name string) error {
	if _, err := s.db.Exec("DELETE FROM product WHERE name = ?", name); err != nil {
		return fmt.Errorf("store: delete product %q: %w", name, err)
	}
	return nil
}

// DeleteRating removes one rating by id. No request handler reaches this;
// it is a store primitive only.
func (s *Store) DeleteRating(id int64) error {
	if _, err := s.db.Exec("DELETE FROM rating WHERE id = ?", id); err != nil {
		return fmt.Errorf("store: delete rating %d: %w", id, err)
	}
	return nil
}

// EnsureDefaults seeds the stock filters and products. Safe to call on every
// start; existing names are left alone.
func (s *Store) EnsureDefaults() error {
	zero := 0.0
	ten := 10.0
	seedFilters := []Filter{
		{Name: "Стоимость", Min: &zero},
		{Name: "Качество", Min: &zero, Max: &ten},
	}
	for _, f := range seedFilters {
		if _, err := s.AddFilter(f.Name, f.Min, f.Max); err != nil && !errors.Is(err, ErrDuplicateName) {
			return err
		}
	}
	for _, name := range []string{"Сыр", "Хлеб", "Молоко"} {
		if _, err := s.AddProduct(name); err != nil && !errors.Is(err, ErrDuplicateName) {
			return err
		}
	}
	return nil
}

func (s *Store) productNamed(name string) (Product, bool, error) {
	var p Product
	err := s.db.QueryRow("SELECT id, name FROM product WHERE name = ?", name).Scan(&p.ID, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, false, nil
	}
	if err != nil {
		return Product{}, false, fmt.Errorf("store: lookup product %q: %w", name, err)
	}
	return p, true, nil
}
