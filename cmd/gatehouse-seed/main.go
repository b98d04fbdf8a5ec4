// Command gatehouse-seed installs template roles. Without arguments it
// seeds the built-in defaults (admin, member, viewer); with -file it
// seeds role definitions from a YAML file. Seeding is idempotent and
// insert-only, so re-running never removes grants added by operators.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/orgs"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/storage/postgres"
)

func main() {
	seedFile := flag.String("file", "", "YAML file of role definitions (defaults to the built-in templates)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := context.Background()

	db, err := postgres.Connect(ctx, cfg.Database)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	if err := orgs.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("Failed to run organization migrations")
		os.Exit(1)
	}
	if err := rbac.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("Failed to run authorization migrations")
		os.Exit(1)
	}

	definitions := rbac.DefaultRoleDefinitions()
	if *seedFile != "" {
		definitions, err = rbac.LoadSeedFile(*seedFile)
		if err != nil {
			logger.WithError(err).Error("Failed to load seed file")
			os.Exit(1)
		}
	}

	if err := rbac.SeedRoles(ctx, db, definitions); err != nil {
		logger.WithError(err).Error("Failed to seed roles")
		os.Exit(1)
	}

	logger.WithField("roles", len(definitions)).Info("Role seeding completed")
}
