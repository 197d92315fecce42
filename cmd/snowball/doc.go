// Package main hosts the crawler entrypoint.
//
// Architecture overview:
//   - Stages: discovery walks category timelines and queues article jobs; the article stage snapshots each
//     article version into the source container and queues the comment thread the first time it sees an
//     article; the comment stage appends new comments to the article's YAML comment log; join rebuilds the
//     schema document and user aggregates whenever an article or its comments change.
//   - Queues and leases: every stage pops one item at a time into a per-consumer in-flight list and settles it
//     with ack or requeue. Consumer ids are derived from instance.id, so a restarted process recovers what it left
//     in flight. Redis lists back the queues in production; an in-memory queue serves local runs and tests.
//   - Watermarks: each engine keeps a {latest id, resume token, count, update time} watermark per entity in the
//     versioned record store (Redis hashes or Postgres). Writing the watermark is the commit point of a cycle, so
//     content and notifications are delivered at least once.
//   - Persistence & fanout: snapshots, comment logs and join output go to the configured blob store
//     (memory/local/GCS). Finished schema documents are announced on Pub/Sub when a topic is configured.
//   - Configuration & plumbing: Viper populates config from file and SNOWBALL_* environment variables; zap provides
//     structured logging; Prometheus metrics and the admin API are served by a chi router; OpenTelemetry spans wrap
//     each stage cycle and travel with published events.
//
// Operational notes:
//   - Politeness: all source requests share a token-bucket limiter; a 403 rebuilds the cookie session and pauses
//     the domain for source.reject_cooldown.
//   - Store outages keep the lease and retry with jittered exponential backoff instead of dropping work.
//   - SIGTERM requeues each runner's in-flight item before exit.
//
// Quick checklist:
//   - Configure env vars: SNOWBALL_REDIS_ADDRESS, SNOWBALL_RECORDS_BACKEND, SNOWBALL_STORAGE_BACKEND and
//     SNOWBALL_STORAGE_BUCKET, SNOWBALL_PUBSUB_PROJECT_ID and SNOWBALL_PUBSUB_TOPIC, SNOWBALL_INSTANCE_ID.
//   - Seed categories once: go run ./cmd/snowball seed --config config.yaml
//   - Run: go run ./cmd/snowball run --config config.yaml
//   - Inspect: go run ./cmd/snowball inspect queue snowball:articles
package main
