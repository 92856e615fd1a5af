package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	migrationsTable = "storefront_schema_migrations"
)

type Credentials struct {
	Driver            string
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	SQLitePath        string
	MigrationsDirPath string
}

type Repository struct {
	db     *sql.DB
	driver string
}

// TxStore is the part of the store that is only reachable inside InTx.
type TxStore interface {
	CreateOrder(ctx context.Context, order *domain.Order) (int64, error)
	AddOrderLine(ctx context.Context, line *domain.OrderLine) error
	OrderLines(ctx context.Context, orderID int64) ([]domain.OrderLine, error)
	DecrementStock(ctx context.Context, productID int64, qty int) (bool, error)
	IncrementStock(ctx context.Context, productID int64, qty int) (bool, error)
	TransitionOrderStatus(ctx context.Context, orderID int64, from, to domain.OrderStatus) (bool, error)
	InsertOutboxEvent(ctx context.Context, event *OutboxEvent) error
}

type RepoInterface interface {
	InTx(ctx context.Context, fn func(tx TxStore) error) error

	FindProductByID(ctx context.Context, id int64) (*domain.Product, error)
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]*domain.Product, error)
	ListCategories(ctx context.Context) ([]*domain.Category, error)
	CreateCategory(ctx context.Context, name string) (int64, error)
	CreateProduct(ctx context.Context, p *domain.Product) (int64, error)
	UpdateProduct(ctx context.Context, p *domain.Product) error
	DeleteProduct(ctx context.Context, id int64) error

	FindOrderByID(ctx context.Context, id int64) (*domain.Order, error)
	FindOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*domain.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]*domain.Order, error)
	ListOrders(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error)

	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
	DeleteProcessedEvents(ctx context.Context, before time.Time) (int64, error)

	Ping(ctx context.Context) error
	RunMigrations(*Credentials) error
	Close() error
}

func NewRepository(cred *Credentials) (*Repository, error) {
	switch cred.Driver {
	case DriverPostgres, "":
		return newPostgres(cred)
	case DriverSQLite:
		return newSQLite(cred)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cred.Driver)
	}
}

func newPostgres(cred *Credentials) (*Repository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &Repository{db: db, driver: DriverPostgres}, nil
}

func newSQLite(cred *Credentials) (*Repository, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
		cred.SQLitePath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	// sqlite has a single writer; one connection keeps transactions serialized in the pool
	db.SetMaxOpenConns(1)
	return &Repository{db: db, driver: DriverSQLite}, nil
}

func (r *Repository) Driver() string {
	return r.driver
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	var (
		driver database.Driver
		err    error
	)
	switch r.driver {
	case DriverSQLite:
		driver, err = sqlite.WithInstance(r.db, &sqlite.Config{MigrationsTable: migrationsTable})
	default:
		driver, err = postgres.WithInstance(r.db, &postgres.Config{MigrationsTable: migrationsTable})
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		r.driver,
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}
