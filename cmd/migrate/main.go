package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"kontakt.org/internal/migrate"
	"kontakt.org/internal/obs"
)

func main() {
	var (
		dsn       = flag.String("dsn", os.Getenv("KONTAKT_PG_DSN"), "PostgreSQL DSN")
		seedsPath = flag.String("seeds", "", "Directory with SQL seed files (seed command)")
		table     = flag.String("table", "", "Override the goose version table")
	)
	flag.Parse()
	logger := obs.Logger()

	if *dsn == "" {
		logger.Fatal("missing DSN: provide via -dsn or KONTAKT_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		fmt.Fprintln(os.Stderr, "usage: migrate [up|down|seed|status]")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	opts := []migrate.Option{migrate.WithMigrationsTable(*table)}
	if *seedsPath != "" {
		opts = append(opts, migrate.WithSeeds(os.DirFS(*seedsPath)))
	}
	mgr := migrate.NewManager(db, opts...)

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		if *seedsPath == "" {
			logger.Fatal("seed requires -seeds")
		}
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
			var pending bool
			if pending, err = mgr.Pending(ctx); err == nil && pending {
				fmt.Println("(pending migrations)")
			}
		}
	default:
		logger.Fatal("unknown command", zap.String("command", cmd))
	}
	if err != nil {
		logger.Fatal("migrate failed", zap.String("command", cmd), zap.Error(err))
	}
	logger.Info("migrate_done", zap.String("command", cmd))
}
