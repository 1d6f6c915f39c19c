package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"incident-registry/config"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DB carries the dialect next to the pool; queries are written with `?` and
// rebound for Postgres.
type DB struct {
	*sql.DB
	Dialect Dialect
}

const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_txlock=immediate"

func NewDB(cfg *config.AppConfig, logger *slog.Logger) (*DB, error) {
	dialect, err := parseDialect(cfg.DBDriver)
	if err != nil {
		return nil, err
	}
	var (
		driver string
		dsn    = strings.TrimSpace(cfg.DBURL)
	)
	switch dialect {
	case DialectPostgres:
		driver = "pgx"
	case DialectSQLite:
		driver = "sqlite"
		dsn = sqliteDSN(dsn)
	}
	raw, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectPostgres {
		raw.SetMaxOpenConns(25)
		raw.SetMaxIdleConns(5)
		raw.SetConnMaxIdleTime(5 * time.Minute)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	if logger != nil {
		logger.Info("database connected", "dialect", string(dialect))
	}
	return &DB{DB: raw, Dialect: dialect}, nil
}

func parseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "pgx":
		return DialectPostgres, nil
	case "sqlite":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported db driver %q", driver)
	}
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "_txlock=") {
		return path
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + sqlitePragmas
}

func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
