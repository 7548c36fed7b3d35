// internal/config/database.go
package config

import (
	"fmt"
	"os"
)

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// TestDSN is the database used by repository tests; empty disables them.
func TestDSN() string {
	return os.Getenv("TEST_DATABASE_DSN")
}
