package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"genaiportal.org/internal/auth"
	"genaiportal.org/internal/config"
	"genaiportal.org/internal/migrate"
	"genaiportal.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		dsn         = flag.String("dsn", os.Getenv("PORTAL_PG_DSN"), "PostgreSQL DSN")
		seedsPath   = flag.String("seeds", "", "Directory of *.sql seed files (optional)")
		configPath  = flag.String("config", os.Getenv("PORTAL_CONFIG"), "YAML config whose users are provisioned by 'users'")
		seedDefault = flag.Bool("seed-defaults", false, "Provision the fixture accounts when the config declares no users")
		tablePrefix = flag.String("table-prefix", os.Getenv("PORTAL_MIGRATIONS_PREFIX"), "Prefix for the bookkeeping tables (default schema_)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or PORTAL_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status|users]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	var opts []migrate.Option
	if *tablePrefix != "" {
		opts = append(opts,
			migrate.WithMigrationsTable(*tablePrefix+"migrations"),
			migrate.WithSeedsTable(*tablePrefix+"seeds"))
	}
	if *seedsPath != "" {
		opts = append(opts, migrate.WithSeeds(os.DirFS(*seedsPath)))
	}
	mgr := migrate.NewManager(store.DB(), migrate.Migrations(), opts...)

	switch flag.Arg(0) {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		if err == nil {
			for _, name := range applied {
				fmt.Println("applied", name)
			}
			if len(applied) == 0 {
				fmt.Println("up to date")
			}
		}
	case "down":
		var reverted string
		reverted, err = mgr.Down(ctx)
		if err == nil && reverted != "" {
			fmt.Println("reverted", reverted)
		}
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history, pending []string
		history, err = mgr.Status(ctx)
		if err == nil {
			pending, err = mgr.Pending(ctx)
		}
		if err == nil {
			for _, item := range history {
				fmt.Println("applied ", item)
			}
			for _, item := range pending {
				fmt.Println("pending ", item)
			}
		}
	case "users":
		err = seedUsers(ctx, store, *configPath, *seedDefault)
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

func seedUsers(ctx context.Context, store *pg.Store, configPath string, defaults bool) error {
	seeds, err := config.SeedUsers(configPath, defaults)
	if err != nil {
		return err
	}
	if len(seeds) == 0 {
		return errors.New("no users declared; add users to -config or pass -seed-defaults")
	}
	n, err := auth.EnsureUsers(ctx, store, seeds, time.Now().UTC())
	if err != nil {
		return err
	}
	fmt.Printf("provisioned %d of %d users\n", n, len(seeds))
	return nil
}
