// SPDX-License-Identifier: GPL-3.0-or-later
package contacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	nmail "net/mail"
	"strings"

	"github.com/mailtriage/go-mail-triage/log"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"
)

// Book is the sqlite-backed contact list used for sender_not_in_contacts
// rule conditions. Addresses are stored normalized to the lowercased
// addr-spec, so lookups ignore display names and casing.
type Book struct {
	db *sqlx.DB
	l  *logrus.Logger
}

var migrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "1-contacts",
			Up: []string{
				`CREATE TABLE contacts (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					address TEXT NOT NULL UNIQUE,
					name TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE INDEX idx_contacts_address ON contacts (address)`,
			},
			Down: []string{`DROP TABLE contacts`},
		},
	},
}

func NewBook(datasource string) (*Book, error) {
	db, err := sqlx.Connect("sqlite3", datasource)
	if err != nil {
		return nil, fmt.Errorf("could not open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	l := log.Logger(log.LOG_CONTACTS)
	l.WithField("file", datasource).Info("Connected")

	_, err = db.Exec(`PRAGMA journal_mode=WAL`)
	if err != nil {
		return nil, fmt.Errorf("could not set journal mode: %w", err)
	}
	_, err = db.Exec(`PRAGMA synchronous=normal`)
	if err != nil {
		return nil, fmt.Errorf("could not set synchronous mode: %w", err)
	}

	appliedMigrations, err := migrate.Exec(db.DB, "sqlite3", migrations, migrate.Up)
	if err != nil {
		return nil, fmt.Errorf("could not migrate to newest version: %w", err)
	}

	l.WithField("migrations", appliedMigrations).Debug("Executed migrations")

	return &Book{
		db: db,
		l:  l,
	}, nil
}

func (b *Book) Close() error {
	err := b.db.Close()
	if err != nil {
		return fmt.Errorf("could not close db: %w", err)
	}
	b.l.Info("Disconnected")
	return nil
}

func (b *Book) Known(ctx context.Context, sender string) (bool, error) {
	address, err := normalize(sender)
	if err != nil {
		return false, err
	}

	var id int64
	err = b.db.GetContext(ctx, &id, `SELECT id FROM contacts WHERE address = ?`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("could not query db: %w", err)
	}

	return true, nil
}

func (b *Book) Add(ctx context.Context, sender, name string) error {
	address, err := normalize(sender)
	if err != nil {
		return err
	}

	_, err = b.db.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO contacts (address, name) VALUES (?, ?)`,
		address,
		name,
	)
	if err != nil {
		return fmt.Errorf("could not save contact: %w", err)
	}

	b.l.WithFields(logrus.Fields{"Address": address, "Name": name}).Info("Persisted contact")
	return nil
}

// normalize reduces "Display Name <User@Example.com>" to "user@example.com".
// Inputs that don't parse as an address are lowercased and trimmed as-is.
func normalize(sender string) (string, error) {
	trimmed := strings.TrimSpace(sender)
	if trimmed == "" {
		return "", fmt.Errorf("sender address is empty")
	}

	parsed, err := nmail.ParseAddress(trimmed)
	if err != nil {
		return strings.ToLower(trimmed), nil
	}
	return strings.ToLower(parsed.Address), nil
}
