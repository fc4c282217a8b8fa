// Command migrate manages the battle checkpoint schema: the battles
// table, its status index, and the saved_at ordering used for crash
// recovery. Usage:
//
//	migrate [-config configs/dev.yaml] [-migrations migrations] [-steps N] up|down|version
//
// Database settings come from the same config file and SKIRMISH_
// environment overrides the battle server itself reads.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/cormorant-games/skirmish/internal/config"
)

func main() {
	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	migrationsDir := flag.String("migrations", "migrations", "path to migration files")
	steps := flag.Int("steps", 0, "number of steps (0 = all)")
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	m, err := migrate.New("file://"+*migrationsDir, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("creating migrator: %v", err)
	}
	defer m.Close()

	switch command {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
	case "down":
		if *steps > 0 {
			err = m.Steps(-*steps)
		} else {
			err = m.Down()
		}
	case "version":
		version, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			fmt.Fprintln(os.Stdout, "battle schema not initialized")
			return
		}
		if verr != nil {
			log.Fatalf("reading schema version: %v", verr)
		}
		fmt.Fprintf(os.Stdout, "battle schema version=%d dirty=%v\n", version, dirty)
		return
	default:
		log.Fatalf("unknown command %q: must be 'up', 'down', or 'version'", command)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		version, dirty, _ := m.Version()
		fmt.Fprintf(os.Stdout, "battle schema already current (version=%d dirty=%v)\n", version, dirty)
		return
	}
	if err != nil {
		log.Fatalf("migrating %s: %v", command, err)
	}

	version, dirty, _ := m.Version()
	fmt.Fprintf(os.Stdout, "battle schema migrated %s to version=%d dirty=%v\n", command, version, dirty)
}
