package database

import (
	"fmt"
	"net/url"

	"github.com/rickgao/eventsub-receiver/internal/config"
)

// BuildConnString builds a PostgreSQL connection string from config.
// A non-empty appName is reported to the server as application_name.
func BuildConnString(cfg config.DBConfig, appName string) string {
	// URL-encode credentials to handle special characters
	escapedPassword := url.QueryEscape(cfg.Password)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	if appName != "" {
		q.Set("application_name", appName)
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(cfg.User),
		escapedPassword,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		q.Encode(),
	)
}
