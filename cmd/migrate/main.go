package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/boardfeed-backend/pkg/config"
	"github.com/angelmondragon/boardfeed-backend/pkg/db"
	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
	"github.com/angelmondragon/boardfeed-backend/pkg/migrate"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|create|validate")
	dir := flag.String("dir", "", "goose migrations directory (default: embedded set; "+migrate.DefaultDir+" for create)")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	// create and validate only touch the filesystem.
	switch *cmd {
	case "create":
		if *name == "" {
			fail("missing -name for create", nil)
		}
		target := *dir
		if target == "" {
			target = migrate.DefaultDir
		}
		path, err := migrate.CreateSQLMigration(target, *name)
		if err != nil {
			fail("failed to create migration", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		if err := migrate.ValidateFS(migrate.FromDir(*dir)); err != nil {
			fail("migration validation failed", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
		"dir": *dir,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.SQL()
	if err != nil {
		logg.Error(ctx, "failed to open sql handle", err)
		os.Exit(1)
	}

	source := migrate.FromDir(*dir)
	var reports []migrate.Report
	switch *cmd {
	case "up", "down", "status":
		reports, err = migrate.Run(ctx, sqlDB, source, *cmd)
	case "version":
		if *version == "" {
			fail("missing -version for version command", nil)
		}
		reports, err = migrate.MigrateToVersion(ctx, sqlDB, source, *version)
	default:
		fail("unknown -cmd value: "+*cmd, nil)
	}
	if err != nil {
		logg.Error(ctx, "goose "+*cmd+" failed", err)
		dbClient.Close()
		os.Exit(1)
	}
	for _, r := range reports {
		state := "pending"
		if r.Applied {
			state = "applied"
		}
		fmt.Printf("%d\t%s\t%s\n", r.Version, state, r.Path)
	}
	logg.Info(logg.WithField(ctx, "migrations", len(reports)), "goose "+*cmd+" complete")
}

func fail(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	} else {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(1)
}
