// Package main provides the battle server binary: an HTTP/websocket
// frontend over the turn-based combat engine, with PostgreSQL-backed
// session checkpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cormorant-games/skirmish/internal/battleserver"
	"github.com/cormorant-games/skirmish/internal/config"
	"github.com/cormorant-games/skirmish/internal/game/ai"
	"github.com/cormorant-games/skirmish/internal/game/board"
	"github.com/cormorant-games/skirmish/internal/game/clock"
	"github.com/cormorant-games/skirmish/internal/game/condition"
	"github.com/cormorant-games/skirmish/internal/game/dice"
	"github.com/cormorant-games/skirmish/internal/game/effect"
	"github.com/cormorant-games/skirmish/internal/game/pipeline"
	"github.com/cormorant-games/skirmish/internal/game/turn"
	"github.com/cormorant-games/skirmish/internal/game/unit"
	"github.com/cormorant-games/skirmish/internal/observability"
	"github.com/cormorant-games/skirmish/internal/scripting"
	"github.com/cormorant-games/skirmish/internal/server"
	"github.com/cormorant-games/skirmish/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	recoverFlag := flag.Bool("recover", true, "restore battles checkpointed mid-fight at startup")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting battle server",
		zap.String("addr", cfg.Server.Addr()),
	)

	src := dice.NewCryptoSource()

	// Load content
	contentStart := time.Now()
	templates, err := unit.LoadDirectory(cfg.Content.TemplatesDir)
	if err != nil {
		logger.Fatal("loading unit templates", zap.Error(err))
	}
	condRegistry, err := condition.LoadDirectory(cfg.Content.ConditionsDir)
	if err != nil {
		logger.Fatal("loading condition definitions", zap.Error(err))
	}
	abilityRegistry := effect.NewRegistry()
	if err := abilityRegistry.LoadDirectory(cfg.Content.AbilitiesDir); err != nil {
		logger.Fatal("loading ability definitions", zap.Error(err))
	}
	maps, err := board.LoadMapsFromDir(cfg.Content.MapsDir)
	if err != nil {
		logger.Fatal("loading maps", zap.Error(err))
	}
	logger.Info("content loaded",
		zap.Int("templates", templates.Count()),
		zap.Int("conditions", len(condRegistry.All())),
		zap.Int("abilities", len(abilityRegistry.Codes())),
		zap.Int("maps", len(maps)),
		zap.Duration("elapsed", time.Since(contentStart)),
	)

	// Initialise scripting
	scriptMgr := scripting.NewManager(src, logger)
	defer scriptMgr.Close()
	if info, statErr := os.Stat(cfg.Content.ScriptsDir); statErr == nil && info.IsDir() {
		scriptStart := time.Now()
		if err := scriptMgr.LoadRuleset(cfg.Battle.Ruleset, cfg.Content.ScriptsDir, cfg.Scripting.InstructionLimit); err != nil {
			logger.Fatal("loading ruleset scripts",
				zap.String("ruleset", cfg.Battle.Ruleset),
				zap.Error(err),
			)
		}
		logger.Info("ruleset scripts loaded",
			zap.String("ruleset", cfg.Battle.Ruleset),
			zap.Duration("elapsed", time.Since(scriptStart)),
		)
	} else {
		logger.Warn("scripts directory not found, abilities use built-in resolution",
			zap.String("dir", cfg.Content.ScriptsDir),
		)
	}

	// Connect to PostgreSQL for session checkpoints
	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)
	battleRepo := postgres.NewBattleRepository(pool.DB())

	// Assemble the engine
	resolver := effect.NewLuaResolver(scriptMgr, src)
	pipe := pipeline.New(abilityRegistry, condRegistry, resolver, logger)
	sched := turn.NewScheduler()
	monitor := clock.NewMonitor(sched)
	brain := ai.NewController(pipe, logger)
	hub := battleserver.NewHub(logger)

	settings := battleserver.Settings{
		QTETimeout:   cfg.Battle.QTETimeout,
		AIThinkDelay: cfg.Battle.AIThinkDelay,
		GraceWindow:  cfg.Battle.GraceWindow,
		RulesetID:    cfg.Battle.Ruleset,
	}
	defaults := battleserver.BattleDefaults{
		GridWidth:    cfg.Battle.GridWidth,
		GridHeight:   cfg.Battle.GridHeight,
		TurnDuration: cfg.Battle.TurnDurationSeconds,
		LogCap:       cfg.Battle.LogRing,
	}
	manager := battleserver.NewManager(pipe, sched, monitor, brain, templates, maps, condRegistry, hub, battleRepo, settings, defaults, logger)
	router := battleserver.NewRouter(manager, hub, logger)

	// Recover battles that were mid-fight when the process last stopped.
	if *recoverFlag {
		ids, err := battleRepo.ListActive(ctx)
		if err != nil {
			logger.Warn("listing recoverable battles failed", zap.Error(err))
		}
		for _, id := range ids {
			if _, err := manager.Restore(ctx, id); err != nil {
				logger.Warn("battle recovery failed",
					zap.String("battle_id", id),
					zap.Error(err),
				)
				continue
			}
			logger.Info("battle recovered", zap.String("battle_id", id))
		}
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: router.Mux(),
	}

	// Wire lifecycle
	lifecycle := server.NewLifecycle(logger)

	lifecycle.Add("http",
		func(ctx context.Context) error {
			logger.Info("http server listening", zap.String("addr", cfg.Server.Addr()))
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("serving on %s: %w", cfg.Server.Addr(), err)
			}
			return nil
		},
		func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		},
	)

	// Sessions run on their own timers; they only need teardown.
	lifecycle.Add("sessions", nil, manager.CloseAll)

	lifecycle.Add("postgres",
		func(ctx context.Context) error {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := pool.Health(ctx, 5*time.Second); err != nil {
						logger.Warn("database health check failed", zap.Error(err))
					}
				}
			}
		},
		pool.Close,
	)

	logger.Info("battle server initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
