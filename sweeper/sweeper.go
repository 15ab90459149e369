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

package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/docweave/storage"
)

// Reap messages recorded on sessions the sweeper finalizes. The two
// regular-sweep messages are distinct so operators can tell a silent
// session from one that ran too long.
const (
	emergencyReapMessage = "health check timeout"
	heartbeatReapMessage = "session timed out - no activity detected"
	runtimeReapMessage   = "session exceeded maximum processing time"
)

const recentFailureLimit = 5

// Config holds sweep intervals and reclamation thresholds. Zero fields
// take the defaults below.
type Config struct {
	// EmergencyInterval is how often emergency sessions are checked.
	EmergencyInterval time.Duration

	// RegularInterval is how often the full sweep runs.
	RegularInterval time.Duration

	// StartupDelay schedules one early full sweep shortly after start so
	// work orphaned by the previous process is reclaimed promptly.
	StartupDelay time.Duration

	// HeartbeatTimeout is how long a processing session may go without a
	// heartbeat before it is reaped.
	HeartbeatTimeout time.Duration

	// MaxRuntime is the wall-clock bound on a session regardless of
	// heartbeat activity.
	MaxRuntime time.Duration

	// StuckChunkTimeout is how long a chunk may sit in an in-flight
	// stage before it is failed.
	StuckChunkTimeout time.Duration

	// MirrorEviction is how long terminal sessions linger in the mirror.
	MirrorEviction time.Duration
}

// DefaultConfig returns the standard sweep schedule.
func DefaultConfig() Config {
	return Config{
		EmergencyInterval: 15 * time.Second,
		RegularInterval:   60 * time.Second,
		StartupDelay:      10 * time.Second,
		HeartbeatTimeout:  90 * time.Second,
		MaxRuntime:        8 * time.Minute,
		StuckChunkTimeout: 10 * time.Minute,
		MirrorEviction:    5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.EmergencyInterval <= 0 {
		c.EmergencyInterval = defaults.EmergencyInterval
	}
	if c.RegularInterval <= 0 {
		c.RegularInterval = defaults.RegularInterval
	}
	if c.StartupDelay <= 0 {
		c.StartupDelay = defaults.StartupDelay
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = defaults.HeartbeatTimeout
	}
	if c.MaxRuntime <= 0 {
		c.MaxRuntime = defaults.MaxRuntime
	}
	if c.StuckChunkTimeout <= 0 {
		c.StuckChunkTimeout = defaults.StuckChunkTimeout
	}
	if c.MirrorEviction <= 0 {
		c.MirrorEviction = defaults.MirrorEviction
	}
	return c
}

// Mirror is the in-memory session state the sweeper maintains alongside
// the durable store.
type Mirror interface {
	// SweepEmergency fails emergency mirror sessions with heartbeats
	// older than the cutoff.
	SweepEmergency(cutoff time.Time, message string) int

	// EvictTerminal drops terminal mirror entries older than the cutoff.
	EvictTerminal(cutoff time.Time) int
}

// Sweeper runs the reclamation loops.
type Sweeper struct {
	store  storage.SessionStore
	mirror Mirror
	cfg    Config
	logger *slog.Logger

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a sweeper over the given store and mirror. The mirror may
// be nil when no in-memory state exists, as in the one-shot CLI sweep.
func New(store storage.SessionStore, mirror Mirror, cfg Config, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:  store,
		mirror: mirror,
		cfg:    cfg.withDefaults(),
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// Start launches the background loops. Call Stop to end them.
func (s *Sweeper) Start() {
	s.wg.Add(2)
	go s.emergencyLoop()
	go s.regularLoop()
}

// Stop ends the background loops and waits for them to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Sweeper) emergencyLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.EmergencyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.SweepEmergency(context.Background())
		}
	}
}

func (s *Sweeper) regularLoop() {
	defer s.wg.Done()

	startup := time.NewTimer(s.cfg.StartupDelay)
	defer startup.Stop()
	ticker := time.NewTicker(s.cfg.RegularInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-startup.C:
			s.SweepRegular(context.Background())
		case <-ticker.C:
			s.SweepRegular(context.Background())
		}
	}
}

// SweepEmergency is the heartbeat-only check: any processing session
// whose last activity is older than the heartbeat timeout is failed,
// in the store and the mirror.
func (s *Sweeper) SweepEmergency(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.HeartbeatTimeout)

	result, err := s.store.Sweep(ctx, storage.SweepParams{
		HeartbeatCutoff:  cutoff,
		HeartbeatMessage: emergencyReapMessage,
	})
	if err != nil {
		s.logger.Error("emergency sweep failed", "error", err)
		return
	}

	mirrorReaped := 0
	if s.mirror != nil {
		mirrorReaped = s.mirror.SweepEmergency(cutoff, emergencyReapMessage)
	}
	if result.HeartbeatReaped > 0 || mirrorReaped > 0 {
		s.logger.Warn("reaped stalled sessions",
			"stored", result.HeartbeatReaped, "mirrorOnly", mirrorReaped)
	}
}

// SweepRegular runs the full reclamation pass: heartbeat reap, wall-clock
// reap, stuck-chunk failure (all in one store transaction), then mirror
// eviction and a diagnostics pass.
func (s *Sweeper) SweepRegular(ctx context.Context) {
	now := time.Now()

	result, err := s.store.Sweep(ctx, storage.SweepParams{
		HeartbeatCutoff:  now.Add(-s.cfg.HeartbeatTimeout),
		HeartbeatMessage: heartbeatReapMessage,
		RuntimeCutoff:    now.Add(-s.cfg.MaxRuntime),
		RuntimeMessage:   runtimeReapMessage,
		StuckChunkCutoff: now.Add(-s.cfg.StuckChunkTimeout),
	})
	if err != nil {
		s.logger.Error("cleanup sweep failed", "error", err)
		return
	}

	evicted := 0
	if s.mirror != nil {
		evicted = s.mirror.EvictTerminal(now.Add(-s.cfg.MirrorEviction))
	}

	if result.HeartbeatReaped > 0 || result.RuntimeReaped > 0 || result.ChunksRecovered > 0 || evicted > 0 {
		s.logger.Info("cleanup sweep reclaimed work",
			"heartbeatReaped", result.HeartbeatReaped,
			"runtimeReaped", result.RuntimeReaped,
			"chunksFailed", result.ChunksRecovered,
			"mirrorEvicted", evicted)
	}

	s.diagnostics(ctx)
}

// diagnostics logs aggregate session health after a sweep commits.
// Failures here never abort the sweep.
func (s *Sweeper) diagnostics(ctx context.Context) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		s.logger.Warn("sweep diagnostics: stats unavailable", "error", err)
		return
	}
	s.logger.Info("session stats",
		"total", stats.Total,
		"processing", stats.Processing,
		"completed", stats.Completed,
		"failed", stats.Failed,
		"partial", stats.Partial)

	failures, err := s.store.RecentFailures(ctx, recentFailureLimit)
	if err != nil {
		s.logger.Warn("sweep diagnostics: recent failures unavailable", "error", err)
		return
	}
	for _, failure := range failures {
		s.logger.Info("recent session failure",
			"sessionId", failure.SessionID,
			"source", failure.SourceLocator,
			"error", firstLine(failure.ErrorMessage))
	}
}

// firstLine trims a failure message to its first line; stack excerpts
// stay in the database, not in the sweep log.
func firstLine(message string) string {
	for i := 0; i < len(message); i++ {
		if message[i] == '\n' {
			return message[:i]
		}
	}
	return message
}
