package telemetry

import (
	"database/sql"
	"fmt"
	"net/url"

	"github.com/XSAM/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// OpenDB opens an instrumented handle and checks the connection. When schema is set it
// is sent as the search_path runtime parameter, so every pooled connection uses it.
func OpenDB(driverName, dsn, schema string) (*sql.DB, error) {
	if schema != "" {
		withSchema, err := WithSearchPath(dsn, schema)
		if err != nil {
			return nil, err
		}
		dsn = withSchema
	}

	db, err := otelsql.Open(driverName, dsn,
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// WithSearchPath adds search_path to a postgres:// connection URL.
func WithSearchPath(dsn, schema string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse database url: %w", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
