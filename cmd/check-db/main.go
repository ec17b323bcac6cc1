// Package main is a diagnostic tool for checking database connectivity. It
// loads the server configuration, connects to the database, prints the schema
// migration version and a per-provider summary of credential instances. The
// binary exits non-zero on any failure so it can gate deployments in CI/CD.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/connector-hub/connector-hub/internal/config"
	"github.com/connector-hub/connector-hub/internal/db"
)

type providerSummary struct {
	ProviderType string `db:"provider_type"`
	Total        int    `db:"total"`
	Disconnected int    `db:"disconnected"`
	Inactive     int    `db:"inactive"`
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.Connect(ctx, cfg.Database.GetDSN(), 2, 1)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer database.Close()
	fmt.Printf("Connected to %s:%d/%s\n", cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)

	version, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		log.Fatalf("Failed to read migration version: %v", err)
	}
	fmt.Printf("Schema version: %d (dirty: %v)\n", version, dirty)
	if version == 0 {
		fmt.Println("No migrations applied; run `server migrate up`.")
		return
	}

	fmt.Println("\n=== CREDENTIAL INSTANCES ===")
	var rows []providerSummary
	err = database.SelectContext(ctx, &rows, `
		SELECT provider_type,
		       COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE connection_state = 'DISCONNECTED') AS disconnected,
		       COUNT(*) FILTER (WHERE NOT active) AS inactive
		FROM credential_instances
		GROUP BY provider_type
		ORDER BY provider_type`)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	if len(rows) == 0 {
		fmt.Println("No credential instances found")
		return
	}
	for _, r := range rows {
		fmt.Printf("%-12s total=%d disconnected=%d inactive=%d\n", r.ProviderType, r.Total, r.Disconnected, r.Inactive)
	}
}
