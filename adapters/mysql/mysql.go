/*
Package mysql implements the order, catalog and identity repositories on MySQL.

Every multi-statement write runs in one transaction; stock adjustments are a single
conditional UPDATE so concurrent decrements can never drive stock below zero. Soft-deleted
rows stay in their tables with is_deleted set and are filtered out of every read.
*/
package mysql

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	berr "github.com/next-trace/scg-api-bus/contract/errors"
)

//go:embed schema.sql
var schema string

// erDupEntry is the server error for a unique key violation.
const erDupEntry = 1062

// Open connects to dsn. Time values are parsed and stored in UTC.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql dsn: %w", err)
	}

	cfg.ParseTime = true
	cfg.Loc = time.UTC
	// UPDATE reports matched rows, so an unchanged row is not mistaken for a missing one.
	cfg.ClientFoundRows = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql ping: %w", err)
	}

	return db, nil
}

// Migrate creates the tables when they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}

		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mysql migrate: %w", err)
		}
	}

	return nil
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == erDupEntry
}

func notFound(entity string, id int64) error {
	return fmt.Errorf("%s %d: %w", entity, id, berr.ErrNotFound)
}

// rowsGone maps an UPDATE that matched nothing to ErrNotFound.
func rowsGone(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %d rows affected: %w", entity, id, err)
	}

	if n == 0 {
		return notFound(entity, id)
	}

	return nil
}
