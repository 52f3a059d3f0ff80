// Package rlmgo is a retrieval-augmented optimization layer for LLM calls:
// it caches, compresses, and enriches prompts before they reach a generation
// backend, and learns from every interaction it sees.
//
// The pipeline never makes a call it can avoid. An exact match in long-term
// memory answers immediately; a cache hit returns the stored response; only
// then does a query flow through rewriting, adaptive compression, and context
// retrieval on its way to the backend. Every generated answer is validated,
// remembered, and fed back into the usage statistics that steer future
// optimization.
//
// Key Components:
//
//   - rlm: The Engine orchestrator. ProcessQuery runs the optimization
//     pipeline, Answer adds generation plus remembering, ProcessBatch fans
//     independent queries over a bounded worker pool.
//
//   - cache: Hash-keyed response cache with TTL and LRU eviction, reversible
//     response compression, and in-memory or SQLite backends.
//
//   - memory: Append-only long-term memory with exact and fuzzy recall,
//     per-keyword learning, and age-based pruning.
//
//   - knowledge: Curated knowledge base with category/tag indices and
//     priority-ordered search.
//
//   - vector: Optional embedding index with cosine search. Without an
//     embedder the system degrades to keyword strategies instead of failing.
//
//   - intelligence: Usage tracking: query categorization, complexity
//     estimation, and backend recommendation from observed performance.
//
//   - improvement: Heuristic response validation, feedback learning, and
//     quality trend reporting.
//
//   - optimize: The optimization stages themselves: rule-based compressors,
//     the advanced prompt rewriter, transient context retrieval, and the base
//     optimizer with its token-accounting regression guard.
//
//   - llms: Generation backends (Anthropic, OpenAI) behind the core.Generator
//     interface, plus an in-process fake for tests.
//
// Configuration is YAML-loaded with validated defaults (pkg/config), state
// persists as atomic JSON snapshots or SQLite (pkg/persist, pkg/cache), and
// structured logging and coded errors run through pkg/logging and pkg/errors.
package rlmgo
