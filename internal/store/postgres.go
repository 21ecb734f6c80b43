package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

//go:embed schema_postgres.sql
var postgresSchemaSQL string

const postgresOperationTimeout = 5 * time.Second

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// Postgres is the journal backend for shared deployments. The connection is
// opened and the schema applied on first use.
type Postgres struct {
	sqlJournal
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgres creates a backend for dsn without connecting.
func NewPostgres(dsn string) (*Postgres, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	p := &Postgres{dsn: dsn, openDB: sql.Open}
	p.sqlJournal = sqlJournal{
		conn:      p.ensureReady,
		rebind:    rebindDollar,
		opTimeout: postgresOperationTimeout,
		close:     p.closeDB,
	}
	return p, nil
}

func (p *Postgres) ensureReady() (*sql.DB, error) {
	p.initOnce.Do(func() {
		db, err := p.openDB("postgres", p.dsn)
		if err != nil {
			p.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		if _, err := db.ExecContext(ctx, postgresSchemaSQL); err != nil {
			_ = db.Close()
			p.initErr = err
			return
		}
		p.db = db
	})
	return p.db, p.initErr
}

func (p *Postgres) closeDB() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}
