package main

import (
	"fmt"
	"os"
	"strconv"

	"bingo-coordinator/internal/config"
	"bingo-coordinator/internal/logging"
	"bingo-coordinator/internal/store"

	"github.com/rs/zerolog/log"
)

const usage = "usage: bingo-migrate up | down [n] | version"

func main() {
	logCfg, err := config.LoadLog()
	if err != nil {
		panic(err)
	}
	if err := logging.Init(logCfg); err != nil {
		panic(err)
	}
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatal().Err(err).Msg("load server config failed")
	}
	if cfg.MemoryStore() {
		log.Fatal().Msg("migrations need STORE_DRIVER=postgres")
	}

	cmd, steps, err := parseCommand(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if cmd == "version" {
		version, dirty, err := store.MigrationVersion(cfg.PostgresDSN, cfg.MigrationsPath)
		if err != nil {
			log.Fatal().Err(err).Msg("read migration version failed")
		}
		fmt.Printf("version=%d dirty=%t\n", version, dirty)
		return
	}
	if err := store.Migrate(cfg.PostgresDSN, cfg.MigrationsPath, steps); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}
}

// parseCommand returns the command and, for up/down, the step count passed to
// store.Migrate. Zero steps means every pending migration.
func parseCommand(args []string) (string, int, error) {
	if len(args) == 0 {
		return "up", 0, nil
	}
	switch args[0] {
	case "up", "version":
		return args[0], 0, nil
	case "down":
		n := 1
		if len(args) > 1 {
			v, err := strconv.Atoi(args[1])
			if err != nil || v < 1 {
				return "", 0, fmt.Errorf("invalid step count %q", args[1])
			}
			n = v
		}
		return "down", -n, nil
	}
	return "", 0, fmt.Errorf("unknown command %q", args[0])
}
