package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported status store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Options selects and addresses the status database. DSN wins over the
// discrete fields when set.
type Options struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"-"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DB wraps the status database connection.
type DB struct {
	conn   *sql.DB
	driver string
}

// Open connects to the status database and applies migrations.
func Open(opts Options) (*DB, error) {
	dsn, err := buildDSN(opts)
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open(opts.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Driver, err)
	}
	if opts.Driver == DriverSQLite {
		// SQLite only supports one writer; a single connection avoids SQLITE_BUSY.
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s: %w", opts.Driver, err)
	}

	db := &DB{conn: conn, driver: opts.Driver}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func buildDSN(opts Options) (string, error) {
	if opts.DSN != "" && opts.Driver != DriverSQLite {
		return opts.DSN, nil
	}
	switch opts.Driver {
	case DriverSQLite:
		path := opts.Path
		if path == "" {
			path = opts.DSN
		}
		if path == "" {
			return "", fmt.Errorf("sqlite path is required")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("create db directory: %w", err)
		}
		if strings.Contains(path, "?") {
			return path, nil
		}
		return path + "?_journal_mode=WAL&_busy_timeout=5000", nil
	case DriverMySQL:
		port := opts.Port
		if port == 0 {
			port = 3306
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
			opts.Username, opts.Password, opts.Host, port, opts.Database), nil
	case DriverPostgres:
		port := opts.Port
		if port == 0 {
			port = 5432
		}
		ssl := opts.SSLMode
		if ssl == "" {
			ssl = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			opts.Host, port, opts.Username, opts.Password, opts.Database, ssl), nil
	default:
		return "", fmt.Errorf("unsupported status driver: %q", opts.Driver)
	}
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Driver returns the driver name.
func (db *DB) Driver() string {
	return db.driver
}

// rebind rewrites "?" placeholders to "$n" for postgres.
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS load_runs (
			id VARCHAR(64) PRIMARY KEY,
			database_name VARCHAR(255) NOT NULL,
			mode VARCHAR(16) NOT NULL,
			success INTEGER NOT NULL DEFAULT 0,
			locators INTEGER NOT NULL DEFAULT 0,
			succeeded INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			rejected INTEGER NOT NULL DEFAULT 0,
			read_back_mismatches INTEGER NOT NULL DEFAULT 0,
			started_at VARCHAR(40) NOT NULL,
			finished_at VARCHAR(40) NOT NULL
		)`,
		// Per-collection status, one record per run and collection.
		`CREATE TABLE IF NOT EXISTS collection_status (
			id VARCHAR(64) PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			update_id VARCHAR(16) NOT NULL,
			database_name VARCHAR(255) NOT NULL,
			object_name VARCHAR(255) NOT NULL,
			update_status_flag CHAR(1) NOT NULL,
			loaded INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			begin_time VARCHAR(40) NOT NULL,
			end_time VARCHAR(40) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS locator_failures (
			id VARCHAR(64) PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			locator VARCHAR(1024) NOT NULL,
			stage VARCHAR(32) NOT NULL,
			collection_name VARCHAR(255) NOT NULL DEFAULT '',
			message TEXT NOT NULL
		)`,
		`CREATE INDEX idx_collection_status_run ON collection_status(run_id)`,
		`CREATE INDEX idx_locator_failures_run ON locator_failures(run_id)`,
	}

	for _, m := range migrations {
		if db.driver != DriverMySQL {
			m = strings.Replace(m, "CREATE INDEX ", "CREATE INDEX IF NOT EXISTS ", 1)
		}
		if _, err := db.conn.Exec(m); err != nil {
			// MySQL has no CREATE INDEX IF NOT EXISTS.
			if strings.Contains(err.Error(), "Duplicate key name") {
				continue
			}
			return fmt.Errorf("migration failed: %s: %w", firstLine(m), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
