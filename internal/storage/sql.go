package storage

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore keeps client state in a single kv table. Useful when the client
// state should live alongside other application data in sqlite or mysql.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL connects to the database named by driver and dsn and ensures the
// kv table exists.
func OpenSQL(driver, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn must be provided")
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(db, driver); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

func migrate(db *sql.DB, driver string) error {
	var stmt string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmt = `CREATE TABLE IF NOT EXISTS client_state (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL
		)`
	case "mysql":
		stmt = `CREATE TABLE IF NOT EXISTS client_state (
			` + "`key`" + ` VARCHAR(255) NOT NULL,
			value MEDIUMBLOB NOT NULL,
			PRIMARY KEY (` + "`key`" + `)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}
	if _, err := db.Exec(stmt); err != nil {
		return fmt.Errorf("migrate (%s): %w", driver, err)
	}
	return nil
}

func (s *SQLStore) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow("SELECT value FROM client_state WHERE `key` = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLStore) Put(key string, value []byte) error {
	_, err := s.db.Exec(
		"REPLACE INTO client_state (`key`, value) VALUES (?, ?)",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM client_state WHERE `key` = ?", key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
