// Package db opens the engine's relational store and keeps its schema
// current. Two drivers are supported: SQLite for single-node deployments
// and Postgres for shared ones.
package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:ltitool.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/ltitool?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS consumers (
  id TEXT PRIMARY KEY,
  label TEXT NOT NULL,
  lti_version TEXT NOT NULL,
  consumer_key TEXT NOT NULL DEFAULT '',
  consumer_secret TEXT NOT NULL DEFAULT '',
  name_param TEXT NOT NULL DEFAULT '',
  mail_param TEXT NOT NULL DEFAULT '',
  platform_issuer TEXT NOT NULL DEFAULT '',
  client_id TEXT NOT NULL DEFAULT '',
  deployment_ids TEXT NOT NULL DEFAULT '[]',
  auth_login_url TEXT NOT NULL DEFAULT '',
  key_set_url TEXT NOT NULL DEFAULT '',
  tool_kid TEXT NOT NULL DEFAULT '',
  tool_private_key_pem TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS consumers_key ON consumers(consumer_key) WHERE consumer_key <> '';
CREATE INDEX IF NOT EXISTS consumers_issuer ON consumers(platform_issuer);

CREATE TABLE IF NOT EXISTS nonces (
  value TEXT PRIMARY KEY,
  consumer_key TEXT NOT NULL,
  ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS nonces_ts ON nonces(ts);

CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  email TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  active INTEGER NOT NULL DEFAULT 1,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS users_name ON users(name);
CREATE INDEX IF NOT EXISTS users_email ON users(email);

CREATE TABLE IF NOT EXISTS provisions (
  id TEXT PRIMARY KEY,
  consumer_id TEXT NOT NULL,
  context_id TEXT NOT NULL,
  resource_link_id TEXT NOT NULL,
  context_label TEXT NOT NULL DEFAULT '',
  context_title TEXT NOT NULL DEFAULT '',
  resource_link_title TEXT NOT NULL DEFAULT '',
  entity_type TEXT NOT NULL,
  entity_bundle TEXT NOT NULL,
  entity_id TEXT NOT NULL DEFAULT '',
  UNIQUE (consumer_id, context_id, resource_link_id)
);

CREATE TABLE IF NOT EXISTS resources (
  id TEXT PRIMARY KEY,
  entity_type TEXT NOT NULL,
  bundle TEXT NOT NULL,
  fields TEXT NOT NULL DEFAULT '{}'
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS consumers (
  id TEXT PRIMARY KEY,
  label TEXT NOT NULL,
  lti_version TEXT NOT NULL,
  consumer_key TEXT NOT NULL DEFAULT '',
  consumer_secret TEXT NOT NULL DEFAULT '',
  name_param TEXT NOT NULL DEFAULT '',
  mail_param TEXT NOT NULL DEFAULT '',
  platform_issuer TEXT NOT NULL DEFAULT '',
  client_id TEXT NOT NULL DEFAULT '',
  deployment_ids TEXT NOT NULL DEFAULT '[]',
  auth_login_url TEXT NOT NULL DEFAULT '',
  key_set_url TEXT NOT NULL DEFAULT '',
  tool_kid TEXT NOT NULL DEFAULT '',
  tool_private_key_pem TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS consumers_key ON consumers(consumer_key) WHERE consumer_key <> '';
CREATE INDEX IF NOT EXISTS consumers_issuer ON consumers(platform_issuer);

CREATE TABLE IF NOT EXISTS nonces (
  value TEXT PRIMARY KEY,
  consumer_key TEXT NOT NULL,
  ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS nonces_ts ON nonces(ts);

CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  email TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  active BOOLEAN NOT NULL DEFAULT TRUE,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS users_name ON users(name);
CREATE INDEX IF NOT EXISTS users_email ON users(email);

CREATE TABLE IF NOT EXISTS provisions (
  id TEXT PRIMARY KEY,
  consumer_id TEXT NOT NULL,
  context_id TEXT NOT NULL,
  resource_link_id TEXT NOT NULL,
  context_label TEXT NOT NULL DEFAULT '',
  context_title TEXT NOT NULL DEFAULT '',
  resource_link_title TEXT NOT NULL DEFAULT '',
  entity_type TEXT NOT NULL,
  entity_bundle TEXT NOT NULL,
  entity_id TEXT NOT NULL DEFAULT '',
  UNIQUE (consumer_id, context_id, resource_link_id)
);

CREATE TABLE IF NOT EXISTS resources (
  id TEXT PRIMARY KEY,
  entity_type TEXT NOT NULL,
  bundle TEXT NOT NULL,
  fields TEXT NOT NULL DEFAULT '{}'
);
`
