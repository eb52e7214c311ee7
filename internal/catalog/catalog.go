// Package catalog persists the pool ledgers known to this host.
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	ErrPoolExists   = errors.New("catalog: pool already exists")
	ErrPoolNotFound = errors.New("catalog: pool not found")
	ErrInvalidName  = errors.New("catalog: invalid pool name")
)

// Pool is one catalog entry.
type Pool struct {
	Name       string
	GenesisTxn string
}

type Store struct {
	db *sql.DB
}

// Open opens the sqlite catalog at path and applies pending migrations.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // sqlite

	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return &Store{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	// m is not closed: closing it would close db.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// ValidateName rejects names that cannot be used as a pool identifier.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, name, genesisTxn string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO pools (name, genesis_txn) VALUES (?, ?)`, name, genesisTxn)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %s", ErrPoolExists, name)
	}
	return err
}

func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pools WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrPoolNotFound, name)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, name string) (Pool, error) {
	var p Pool
	err := s.db.QueryRowContext(ctx, `SELECT name, genesis_txn FROM pools WHERE name = ?`, name).
		Scan(&p.Name, &p.GenesisTxn)
	if errors.Is(err, sql.ErrNoRows) {
		return Pool{}, fmt.Errorf("%w: %s", ErrPoolNotFound, name)
	}
	return p, err
}

// List returns every pool ordered by name.
func (s *Store) List(ctx context.Context) ([]Pool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, genesis_txn FROM pools ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []Pool
	for rows.Next() {
		var p Pool
		if err := rows.Scan(&p.Name, &p.GenesisTxn); err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
