package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/storefront/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository implements every SQL-backed store over PostgreSQL or SQLite.
// Queries use $n placeholders, which both drivers accept.
type Repository struct {
	db     *sql.DB
	driver string
}

func NewRepository(cred *Credentials) (*Repository, error) {
	switch cred.Driver {
	case DriverPostgres, "":
		return newPostgresRepository(cred)
	case DriverSQLite:
		return newSQLiteRepository(cred.SQLitePath)
	default:
		return nil, fmt.Errorf("%w: %q", errUnsupportedDriver, cred.Driver)
	}
}

func newPostgresRepository(cred *Credentials) (*Repository, error) {
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

func newSQLiteRepository(path string) (*Repository, error) {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if e2 := db.Ping(); e2 != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	// one writer at a time; a transaction owns the only connection
	db.SetMaxOpenConns(1)
	return &Repository{db: db, driver: DriverSQLite}, nil
}

// RunMigrations applies the schema. An empty dir uses the migrations embedded
// in the binary; otherwise files are read from dir/<driver>.
func (r *Repository) RunMigrations(dir string) error {
	var (
		driver database.Driver
		err    error
	)
	switch r.driver {
	case DriverPostgres:
		driver, err = pgmigrate.WithInstance(r.db, &pgmigrate.Config{
			MigrationsTable: "storefront_schema_migrations",
		})
	case DriverSQLite:
		driver, err = sqlitemigrate.WithInstance(r.db, &sqlitemigrate.Config{
			MigrationsTable: "storefront_schema_migrations",
		})
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	var m *migrate.Migrate
	if dir == "" {
		src, e2 := iofs.New(migrationsFS, "migrations/"+r.driver)
		if e2 != nil {
			return fmt.Errorf("could not open embedded migrations: %w", e2)
		}
		m, err = migrate.NewWithInstance("iofs", src, r.driver, driver)
	} else {
		m, err = migrate.NewWithDatabaseInstance(
			fmt.Sprintf("file://%s/%s", strings.TrimSuffix(dir, "/"), r.driver),
			r.driver,
			driver,
		)
	}
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *Repository) Driver() string {
	return r.driver
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// WithinTx runs fn against a transaction-scoped writer. The transaction is
// committed when fn returns nil and rolled back otherwise.
func (r *Repository) WithinTx(ctx context.Context, fn func(w OrderWriter) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&txWriter{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type txWriter struct {
	q execer
}

func (w *txWriter) CreateOrder(ctx context.Context, order *domain.Order) error {
	return createOrder(ctx, w.q, order)
}

func (w *txWriter) CreateOrderItems(ctx context.Context, items []domain.OrderItem) error {
	return createOrderItems(ctx, w.q, items)
}

func (w *txWriter) AppendOutboxEvent(ctx context.Context, event *domain.OutboxEvent) error {
	return appendOutboxEvent(ctx, w.q, event)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// placeholders renders "$from, $from+1, ..." for n values.
func placeholders(from, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", from+i)
	}
	return b.String()
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

var (
	_ CartRepository    = (*Repository)(nil)
	_ ProductRepository = (*Repository)(nil)
	_ OrderRepository   = (*Repository)(nil)
	_ OutboxRepository  = (*Repository)(nil)
)
