// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package docweave assembles the document ingestion service: chunking,
// AI enrichment, dual-write storage, session tracking, progress events,
// semantic search, and background reclamation.
package docweave

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/docweave/ai"
	"github.com/poiesic/docweave/ai/openai"
	"github.com/poiesic/docweave/chunker"
	"github.com/poiesic/docweave/config"
	"github.com/poiesic/docweave/core"
	"github.com/poiesic/docweave/events"
	"github.com/poiesic/docweave/pipeline"
	"github.com/poiesic/docweave/search"
	"github.com/poiesic/docweave/session"
	"github.com/poiesic/docweave/storage"
	badgerstore "github.com/poiesic/docweave/storage/badger"
	"github.com/poiesic/docweave/storage/qdrant"
	"github.com/poiesic/docweave/storage/sqlite"
	"github.com/poiesic/docweave/sweeper"
)

// Service owns every component of a running docweave instance. Construct
// with Open, release with Close.
type Service struct {
	cfg      *config.Config
	store    *sqlite.Store
	backend  *badgerstore.Backend
	cache    *badgerstore.Cache
	vectors  *qdrant.Store
	provider ai.Provider
	bus      *events.Bus
	tracker  *session.Tracker
	pipeline *pipeline.Pipeline
	searcher *search.Searcher
	sweeper  *sweeper.Sweeper
	logger   *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	provider ai.Provider
	sweeping bool
}

// WithProvider substitutes the AI provider, primarily for tests.
func WithProvider(provider ai.Provider) ServiceOption {
	return func(o *serviceOptions) { o.provider = provider }
}

// WithBackgroundSweeping starts the sweeper loops on Open.
func WithBackgroundSweeping() ServiceOption {
	return func(o *serviceOptions) { o.sweeping = true }
}

// Open wires the service from configuration: SQLite for sessions,
// documents, and chunks; BadgerDB for the content cache; Qdrant for
// vectors; and the configured AI provider.
func Open(ctx context.Context, cfg *config.Config, opts ...ServiceOption) (*Service, error) {
	options := &serviceOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	logger := slog.Default()

	store, err := sqlite.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open relational store: %w", err)
	}

	backend, err := badgerstore.OpenBackend(cfg.CachePath(), false)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open content cache: %w", err)
	}
	cache := badgerstore.NewCache(backend)

	vectors, err := qdrant.New(qdrant.Config{
		URL:        cfg.Qdrant.URL,
		APIKey:     cfg.Qdrant.APIKey,
		Collection: cfg.Qdrant.Collection,
		Timeout:    time.Duration(cfg.Qdrant.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		_ = backend.Close()
		_ = store.Close()
		return nil, fmt.Errorf("configure vector store: %w", err)
	}
	if err := vectors.EnsureCollection(ctx, cfg.AI.Dimensions); err != nil {
		logger.Warn("vector collection unavailable at startup, continuing",
			"error", err, "kind", core.ClassifyError(err))
	}

	provider := options.provider
	if provider == nil {
		aiConfig := ai.NewConfig(
			ai.WithAnalysisHost(cfg.AI.AnalysisHost),
			ai.WithEmbeddingHost(cfg.AI.EmbeddingHost),
			ai.WithAnalysisModel(cfg.AI.AnalysisModel),
			ai.WithEmbeddingModel(cfg.AI.EmbeddingModel),
			ai.WithToken(cfg.AI.Token),
		)
		provider, err = openai.NewProvider(aiConfig)
		if err != nil {
			_ = backend.Close()
			_ = store.Close()
			return nil, fmt.Errorf("create AI provider: %w", err)
		}
	}

	bus := events.NewBus()
	tracker := session.NewTracker(store)
	if restored, err := tracker.RestoreActive(ctx); err != nil {
		logger.Warn("could not restore active sessions", "error", err)
	} else if restored > 0 {
		logger.Info("restored active sessions", "count", restored)
	}

	docChunker, err := chunker.New(chunker.Options{
		Size:    cfg.Pipeline.ChunkSize,
		Overlap: cfg.Pipeline.ChunkOverlap,
	})
	if err != nil {
		closeAll(provider, backend, store, logger)
		return nil, fmt.Errorf("configure chunker: %w", err)
	}

	pipe, err := pipeline.New(pipeline.Config{
		Chunker:              docChunker,
		Provider:             provider,
		Tracker:              tracker,
		Documents:            store,
		Chunks:               store,
		Vectors:              vectors,
		Cache:                cache,
		Bus:                  bus,
		AnalyzeTimeout:       time.Duration(cfg.Pipeline.AnalyzeTimeoutSeconds) * time.Second,
		ContextualEmbeddings: cfg.Pipeline.ContextualEmbeddings,
		BatchPause:           time.Duration(cfg.Pipeline.BatchPauseMillis) * time.Millisecond,
	})
	if err != nil {
		closeAll(provider, backend, store, logger)
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	searcher, err := search.NewSearcher(vectors, provider)
	if err != nil {
		closeAll(provider, backend, store, logger)
		return nil, fmt.Errorf("build searcher: %w", err)
	}

	sweep := sweeper.New(store, tracker, sweeper.Config{
		EmergencyInterval: time.Duration(cfg.Sweeper.EmergencyIntervalSeconds) * time.Second,
		RegularInterval:   time.Duration(cfg.Sweeper.RegularIntervalSeconds) * time.Second,
		StartupDelay:      time.Duration(cfg.Sweeper.StartupDelaySeconds) * time.Second,
		HeartbeatTimeout:  time.Duration(cfg.Sweeper.HeartbeatTimeoutSeconds) * time.Second,
		MaxRuntime:        time.Duration(cfg.Sweeper.MaxRuntimeSeconds) * time.Second,
		StuckChunkTimeout: time.Duration(cfg.Sweeper.StuckChunkSeconds) * time.Second,
		MirrorEviction:    time.Duration(cfg.Sweeper.MirrorEvictionSeconds) * time.Second,
	}, logger)
	if options.sweeping {
		sweep.Start()
	}

	return &Service{
		cfg:      cfg,
		store:    store,
		backend:  backend,
		cache:    cache,
		vectors:  vectors,
		provider: provider,
		bus:      bus,
		tracker:  tracker,
		pipeline: pipe,
		searcher: searcher,
		sweeper:  sweep,
		logger:   logger,
	}, nil
}

func closeAll(provider ai.Provider, backend *badgerstore.Backend, store *sqlite.Store, logger *slog.Logger) {
	if err := provider.Close(); err != nil {
		logger.Error("error closing AI provider", "err", err)
	}
	if err := backend.Close(); err != nil {
		logger.Error("error closing content cache", "err", err)
	}
	if err := store.Close(); err != nil {
		logger.Error("error closing relational store", "err", err)
	}
}

// Pipeline returns the ingestion pipeline.
func (s *Service) Pipeline() *pipeline.Pipeline {
	return s.pipeline
}

// Tracker returns the session tracker.
func (s *Service) Tracker() *session.Tracker {
	return s.tracker
}

// Bus returns the progress event bus.
func (s *Service) Bus() *events.Bus {
	return s.bus
}

// Searcher returns the knowledge-base searcher.
func (s *Service) Searcher() *search.Searcher {
	return s.searcher
}

// Sweeper returns the reclamation sweeper, for one-shot sweeps.
func (s *Service) Sweeper() *sweeper.Sweeper {
	return s.sweeper
}

// SessionStats returns aggregate session counts.
func (s *Service) SessionStats(ctx context.Context) (core.SessionStats, error) {
	return s.store.Stats(ctx)
}

// RecentFailures returns the most recent failed or partial sessions.
func (s *Service) RecentFailures(ctx context.Context, limit int) ([]core.FailureRecord, error) {
	return s.store.RecentFailures(ctx, limit)
}

// Sessions lists sessions in the given status.
func (s *Service) Sessions(ctx context.Context, status core.SessionStatus) ([]*core.Session, error) {
	return s.store.ListSessionsByStatus(ctx, status)
}

// Chunks lists a document's stored chunks.
func (s *Service) Chunks(ctx context.Context, documentID string) ([]*core.Chunk, error) {
	return s.store.ListChunksByDocument(ctx, documentID)
}

// ContentCache exposes the cache for inspection.
func (s *Service) ContentCache() storage.ContentCache {
	return s.cache
}

// Close releases every component in reverse dependency order.
func (s *Service) Close() error {
	s.sweeper.Stop()
	s.tracker.Close()
	s.bus.Close()

	if err := s.provider.Close(); err != nil {
		s.logger.Error("error closing AI provider", "err", err)
	}
	if err := s.backend.Close(); err != nil {
		s.logger.Error("error closing content cache", "err", err)
		return err
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("error closing relational store", "err", err)
		return err
	}
	return nil
}
