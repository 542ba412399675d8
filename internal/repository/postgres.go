package repository

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/opensource-finance/heron/internal/domain"
	_ "github.com/lib/pq"
)

const postgresApplicationName = "heron"

func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	if err := ping(db, cfg.ConnectTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach postgres at %s: %w", postgresTarget(cfg), err)
	}
	return db, nil
}

// postgresDSN builds a lib/pq keyword/value connection string. A configured
// URL is returned unchanged.
func postgresDSN(cfg domain.RepositoryConfig) string {
	if cfg.PostgresURL != "" {
		return cfg.PostgresURL
	}

	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "heron"
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	params := []string{
		"host=" + pqQuote(host),
		fmt.Sprintf("port=%d", port),
		"dbname=" + pqQuote(dbname),
		"sslmode=" + pqQuote(sslmode),
		"application_name=" + postgresApplicationName,
		fmt.Sprintf("connect_timeout=%d", int(connectTimeout(cfg.ConnectTimeout).Seconds())),
	}
	if cfg.PostgresUser != "" {
		params = append(params, "user="+pqQuote(cfg.PostgresUser))
	}
	if cfg.PostgresPassword != "" {
		params = append(params, "password="+pqQuote(cfg.PostgresPassword))
	}
	return strings.Join(params, " ")
}

// postgresTarget names the server without credentials, for errors and logs.
func postgresTarget(cfg domain.RepositoryConfig) string {
	if cfg.PostgresURL != "" {
		return "configured URL"
	}
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d", host, cfg.PostgresPort)
}

// pqQuote quotes a value when it is empty or holds spaces, quotes or backslashes.
func pqQuote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
