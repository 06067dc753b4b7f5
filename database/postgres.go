// api/database/postgres.go
package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"luminacorp/api/config"
)

type DBClient struct {
	DB  *sql.DB
	log zerolog.Logger
}

// NewPostgresDB opens the shared connection pool used by the relational
// backend. Pool sizing comes from configuration rather than constants so
// deployments can tune it without a rebuild.
func NewPostgresDB(cfg *config.Config, log zerolog.Logger) (*DBClient, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("error opening database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database (ping failed): %w", err)
	}

	log.Info().Msg("connected to PostgreSQL database")
	return &DBClient{DB: db, log: log}, nil
}

func (c *DBClient) Close() {
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.log.Error().Err(err).Msg("error closing database connection")
			return
		}
		c.log.Info().Msg("PostgreSQL database connection closed")
	}
}
