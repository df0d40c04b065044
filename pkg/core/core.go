// Package core is the composition root: it wires the store, resolver,
// write guard, write lane, snapshot ledger, index worker, retrieval
// pipeline, governance loop, external adapters and event broker into one
// long-lived Core value. Grounded on the teacher's pkg/manager.NewManager
// single-constructor wiring (store -> FSM -> subsystems), generalized so
// no subsystem is a package-level singleton.
package core

import (
	"context"
	"time"

	"github.com/memorypalace/core/pkg/config"
	"github.com/memorypalace/core/pkg/events"
	"github.com/memorypalace/core/pkg/external"
	"github.com/memorypalace/core/pkg/governance"
	"github.com/memorypalace/core/pkg/guard"
	"github.com/memorypalace/core/pkg/indexworker"
	"github.com/memorypalace/core/pkg/lane"
	"github.com/memorypalace/core/pkg/log"
	"github.com/memorypalace/core/pkg/resolver"
	"github.com/memorypalace/core/pkg/retrieval"
	"github.com/memorypalace/core/pkg/snapshot"
	"github.com/memorypalace/core/pkg/store"
	"github.com/memorypalace/core/pkg/types"
)

// Core bundles every subsystem the tool surface and HTTP control plane
// call into. Exported fields because pkg/tools and pkg/httpapi are thin
// wrappers over them, not separate abstraction layers.
type Core struct {
	Config      config.Config
	Store       *store.Store
	Resolver    *resolver.Resolver
	Guard       *guard.Guard
	Lane        *lane.Lane
	Ledger      *snapshot.Ledger
	IndexWorker *indexworker.Worker
	Pipeline    *retrieval.Pipeline
	Governance  *governance.Loop
	Events      *events.Broker
	Embedder    external.Embedder
	Summarizer  external.Summarizer
}

// New builds a Core from cfg without starting it. Start launches the
// background goroutines (index worker, governance ticker, event broker);
// the index worker and governance ticker stop when Start's ctx is
// cancelled, and Close stops the event broker and releases the store file.
func New(cfg config.Config) (*Core, error) {
	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	lockPath := cfg.MigrationLockFile
	if err := st.ApplyMigrations(lockPath, cfg.MigrationLockTimeout); err != nil {
		st.Close()
		return nil, err
	}

	res := resolver.New(st, cfg.ValidDomains, cfg.CoreMemoryURIs)

	embedder := external.NewEmbedder(cfg)
	reranker := external.NewReranker(cfg)
	classifier := external.NewClassifier(cfg)
	summarizer := external.NewSummarizer(cfg)

	g := guard.New(guard.Thresholds{
		SemNoopThreshold:    cfg.SemNoopThreshold,
		SemUpdateLow:        cfg.SemUpdateLow,
		KwNoopThreshold:     cfg.KwNoopThreshold,
		KwUpdateThreshold:   cfg.KwUpdateThreshold,
		LLMConsultThreshold: cfg.LLMConsultThreshold,
		LLMEnabled:          cfg.WriteGuardLLMEnabled,
	}, embedder, classifier)

	ln := lane.New(cfg.GlobalConcurrency, cfg.LaneWaitTimeout)
	ledger, err := snapshot.New(st)
	if err != nil {
		st.Close()
		return nil, err
	}

	worker := indexworker.New(cfg.IndexQueueCapacity, cfg.IndexWorkerConcurrency, cfg.IndexRecentJobsRing, cfg.IndexMaxRetries, cfg.IndexRetryBaseDelay, cfg.IndexRetryMaxDelay)

	gov := governance.New(st, ln, governance.ConfigFrom(cfg))

	registerIndexHandlers(worker, st, embedder, gov)

	pipeline := retrieval.New(st, embedder, reranker, retrieval.Thresholds{
		IntentStrongMargin:    cfg.IntentStrongMargin,
		IntentFloor:           cfg.IntentFloor,
		IntentAmbiguousMargin: cfg.IntentAmbiguousMargin,
	}, retrieval.Mode(cfg.SearchDefaultMode), 10)

	broker := events.NewBroker()

	c := &Core{
		Config:      cfg,
		Store:       st,
		Resolver:    res,
		Guard:       g,
		Lane:        ln,
		Ledger:      ledger,
		IndexWorker: worker,
		Pipeline:    pipeline,
		Governance:  gov,
		Events:      broker,
		Embedder:    embedder,
		Summarizer:  summarizer,
	}
	return c, nil
}

// Start launches every background goroutine (index worker consumers,
// governance ticker, event broker distribution). Call once after New.
func (c *Core) Start(ctx context.Context) {
	c.Events.Start()
	c.IndexWorker.Start(ctx)
	c.Governance.Start(ctx, time.Hour)
	log.WithComponent("core").Info().Msg("memory core started")
}

// Close releases the store file and stops the event broker.
func (c *Core) Close() error {
	c.Events.Stop()
	return c.Store.Close()
}

func registerIndexHandlers(w *indexworker.Worker, st *store.Store, embedder external.Embedder, gov *governance.Loop) {
	w.Register(types.TaskRebuildIndex, func(ctx context.Context, job types.IndexJob, cancelled func() bool) error {
		return st.RebuildFullText()
	})

	w.Register(types.TaskReindexMemory, func(ctx context.Context, job types.IndexJob, cancelled func() bool) error {
		mem, err := st.GetMemory(job.MemoryID)
		if err != nil {
			return err
		}
		if embedder != nil {
			vec, err := embedder.Embed(ctx, mem.Content)
			if err == nil {
				st.IndexVector(mem.ID, vec)
			}
		}
		return nil
	})

	w.Register(types.TaskSleepConsolidation, func(ctx context.Context, job types.IndexJob, cancelled func() bool) error {
		_, err := gov.ApplySleepConsolidation(ctx)
		return err
	})
}
