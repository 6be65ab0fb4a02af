// Package resound provides the Resound recommendation engine.

// The engine is organized into subpackages:

// - internal/handlers: HTTP request handlers for all API endpoints
// - internal/engine: facade wiring the subsystems together
// - internal/embedding: deterministic track embeddings
// - internal/vectorindex: HNSW approximate nearest neighbor index
// - internal/taste: decayed taste profiles with time-slot blending
// - internal/cooccur: co-occurrence matrix for collaborative filtering
// - internal/prefs: per-user preference signals and genre affinities
// - internal/scoring: multi-component candidate scoring
// - internal/queue: smart queue and radio session controller
// - internal/providers: external feature provider plugins
// - internal/search: Elasticsearch-backed track search
// - internal/storage: GORM, Redis and in-memory persistence adapters
// - internal/middleware: HTTP middleware (request ids, logging, metrics)
// - internal/metrics: Prometheus instrumentation
// - internal/seed: development data generation

// See the individual package documentation for detailed reference.
package resound
