package main

import (
	"encoding/hex"
	"fmt"
	"time"

	"acms/internal/boundary"
	"acms/internal/config"
	"acms/internal/crypto"
	"acms/internal/embedding"
	"acms/internal/outcome"
	"acms/internal/policy"
	"acms/internal/profile"
	"acms/internal/rehydrate"
	"acms/internal/scheduler"
	"acms/internal/store"
	"acms/internal/tier"
)

// app bundles every wired core component a command needs, built fresh per
// invocation from internal/config and closed on exit — this process is
// short-lived per command, not a long-running daemon, so there is no
// benefit to keeping a store open across invocations.
type app struct {
	cfg        *config.Config
	store      *store.Store
	keys       *crypto.Manager
	embedder   embedding.EmbeddingEngine
	core       *boundary.Core
	exportCore *boundary.ExportCore
	scheduler  *scheduler.Scheduler
}

func (a *app) Close() error {
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

// buildApp loads configuration and wires every core component, the way
// internal/config's Domain()/conversion methods were written to support:
// store, crypto, embedder, rehydration pipeline, tier manager, scheduler,
// and the boundary adapter itself.
func buildApp(userID string) (*app, error) {
	cfg, err := config.Load(resolvedConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	st, err := store.Open(cfg.Store.DatabasePathFor(userID), cfg.Store.VectorDimensions)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var keychain crypto.HardwareBackend
	if cfg.Crypto.MasterKeySeedHex != "" {
		seed, err := decodeSeedHex(cfg.Crypto.MasterKeySeedHex)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("decode master key seed: %w", err)
		}
		keychain, err = crypto.NewSoftwareKeychainFromSeed(seed)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("restore software keychain: %w", err)
		}
	} else {
		keychain, err = crypto.NewSoftwareKeychain()
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("create software keychain: %w", err)
		}
	}
	keys := crypto.NewManager(keychain)

	embedder, err := embedding.NewEngine(cfg.Embedding.Domain())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create embedding engine: %w", err)
	}

	var summarizer embedding.Summarizer
	if s, ok := embedder.(embedding.Summarizer); ok {
		summarizer = s
	} else {
		summarizer = embedding.NewExtractiveSummarizer()
	}

	classifier := rehydrate.NewClassifier(nil)
	cache := rehydrate.NewCacheWithTTL(cfg.GetCacheTTL())

	pipeline := rehydrate.NewPipeline(st, keys, embedder, summarizer, classifier, cache).
		WithRetrievalParams(cfg.Retrieval.KCandidates, cfg.Retrieval.MinScore).
		WithHybridOverrides(cfg.Rehydration.Domain())

	consent := policy.NewConsentLedger()
	outcomes := outcome.NewLogger(st)

	tierMgr := tier.NewManager(st, keys, embedder, summarizer, consent)
	shortDays, midDays, longDays := cfg.Tier.RetentionWindowsDays()
	tierMgr = tierMgr.WithRetentionWindows(tier.RetentionWindows{
		Short: daysToDuration(shortDays),
		Mid:   daysToDuration(midDays),
		Long:  daysToDuration(longDays),
	})

	profileBuilder := profile.NewBuilder(st, keys, cfg)

	sched := scheduler.NewScheduler(profileBuilder, tierMgr, tierMgr, st, keys)

	core := boundary.NewCore(st, keys, embedder, pipeline, outcomes, consent, cfg.CRS.PIIPenaltyWeights()).
		WithDefaultTokenBudget(cfg.Rehydration.EffectiveTokenBudget()).
		WithRateLimits(cfg.RateLimits.IngestsPerMinute, cfg.RateLimits.QueriesPerMinute, cfg.RateLimits.ExportsPerDay).
		WithConcurrencyLimit(cfg.Rehydration.MaxConcurrentQueries, cfg.Rehydration.MaxQueueDepth)

	exportCore := boundary.NewExportCore(st, keys, embedder, core.Limiter())

	return &app{
		cfg: cfg, store: st, keys: keys, embedder: embedder,
		core: core, exportCore: exportCore, scheduler: sched,
	}, nil
}

func decodeSeedHex(hexSeed string) ([]byte, error) {
	seed := make([]byte, hex.DecodedLen(len(hexSeed)))
	n, err := hex.Decode(seed, []byte(hexSeed))
	if err != nil {
		return nil, err
	}
	return seed[:n], nil
}

func daysToDuration(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
