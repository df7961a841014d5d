package audit

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	queryInsertComposite = `INSERT INTO
	composites(id, layers, width, height, png_bytes, useragent, clientip, cfipcountry, ctime)
	VALUES( $1, $2, $3, $4, $5, $6, $7, $8, $9 )`

	queryInsertDelivery = `INSERT INTO
	deliveries(composite_id, recipient, message_id, ctime)
	VALUES( $1, $2, $3, $4 )`
)

type Postgres struct {
	db                  *sql.DB
	stmtInsertComposite *sql.Stmt
	stmtInsertDelivery  *sql.Stmt
}

// OpenPostgres connects to dsn, applies pending migrations and prepares
// the insert statements.
func OpenPostgres(ctx context.Context, dsn, dbName string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize a postgres instance: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to the postgres instance: %w", err)
	}

	if err := migrateUp(db, dbName); err != nil {
		db.Close()
		return nil, err
	}

	p := &Postgres{db: db}
	if p.stmtInsertComposite, err = db.PrepareContext(ctx, queryInsertComposite); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statement for storing composites: %w", err)
	}
	if p.stmtInsertDelivery, err = db.PrepareContext(ctx, queryInsertDelivery); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statement for storing deliveries: %w", err)
	}

	return p, nil
}

func migrateUp(db *sql.DB, dbName string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{
		DatabaseName: dbName,
	})
	if err != nil {
		return fmt.Errorf("failed to obtain postgres driver for migrations: %w", err)
	}

	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dbName, driver)
	if err != nil {
		return fmt.Errorf("failed to initialize a migrate driver instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply all migrations: %w", err)
	}

	return nil
}

func (p *Postgres) Record(ctx context.Context, e Event) error {
	_, err := p.stmtInsertComposite.ExecContext(ctx,
		e.ID, e.Layers, e.Width, e.Height, e.PNGBytes,
		e.UserAgent, e.ClientIP, e.CFIPCountry, e.Time)
	if err != nil {
		return fmt.Errorf("failed to save composite %s: %w", e.ID, err)
	}
	return nil
}

func (p *Postgres) RecordDelivery(ctx context.Context, d Delivery) error {
	_, err := p.stmtInsertDelivery.ExecContext(ctx, d.CompositeID, d.Recipient, d.MessageID, d.Time)
	if err != nil {
		return fmt.Errorf("failed to save delivery of %s: %w", d.CompositeID, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.stmtInsertComposite.Close()
	p.stmtInsertDelivery.Close()
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("failed to close DB connection: %w", err)
	}
	return nil
}
