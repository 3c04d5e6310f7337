// Package main hosts the frontier populator entrypoint.
//
// Architecture overview:
//   - Populators: one per configured shard (or a single "all" populator). Each runs a rate-gated refill cycle:
//     build a diversity-sampled query, search the frontier store (memory, Elasticsearch or Postgres), drop URLs
//     already in flight, shuffle the survivors and append them to the shared buffer.
//   - Scheduler: invokes each populator serially whenever the buffer depth falls to dispatch.low_watermark, sleeping
//     for the deferral the rate gate reports or the poll interval otherwise.
//   - Dispatcher: a fixed pool of dispatch.workers drains the buffer, marks each URL in flight (go-cache locally or
//     Redis when shared), and publishes a message per URL to Pub/Sub, or to memory when no project is configured.
//   - Ops API: /healthz, /readyz (store ping), /metrics and /v1/status served by chi.
//
// Operational notes:
//   - Configuration comes from an optional YAML file (-config) overridden by FRONTIER_* env vars, e.g.
//     FRONTIER_FRONTIER_MIN_DELAY=5s or FRONTIER_INFLIGHT_BACKEND=redis.
//   - SIGINT/SIGTERM stop the refill loops, drain the HTTP server and release store, Redis and Pub/Sub clients.
//
// Run locally: go run ./cmd/populator -config config.yaml
package main
