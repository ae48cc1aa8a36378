// Package storage persists the bot's durable state in SQLite:
//   - scheduled jobs (upsert/dedup on (name, expected_time), retry backoff)
//   - per-issue decision state (one ballot per issue, enforced by the schema)
package storage
