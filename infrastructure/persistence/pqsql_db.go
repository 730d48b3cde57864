package persistence

import (
	"database/sql"
	"fmt"
	"time"

	"crosspost/domain/repository"
	"crosspost/infrastructure/configuration"

	_ "github.com/lib/pq"
)

func NewPostgreSQLDB(cfg configuration.Db) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresDSN(cfg))
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func postgresDSN(cfg configuration.Db) string {
	if cfg.URI != "" {
		return cfg.URI
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name)
}

// NewTokenStore opens the oauth token table on the configured vendor.
func NewTokenStore(cfg configuration.Database) (*sql.DB, repository.IOAuthToken, error) {
	switch cfg.Vendor {
	case "mssql":
		db, err := NewMSSQLDB(cfg.Mssql)
		if err != nil {
			return nil, nil, fmt.Errorf("open mssql: %w", err)
		}
		if err := EnsureOAuthTokenSchemaMSSQL(db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return db, NewOAuthTokenRepositoryMSSQL(db), nil
	case "postgres", "":
		db, err := NewPostgreSQLDB(cfg.Psql)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := EnsureOAuthTokenSchema(db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return db, NewOAuthTokenRepository(db), nil
	default:
		return nil, nil, fmt.Errorf("unsupported database vendor %q", cfg.Vendor)
	}
}
