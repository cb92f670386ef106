// Package sotlasapi is the root of the sotlas-api service, a live spot
// aggregation backend for Summits on the Air (SOTA).
//
// # Architecture
//
// Two ingestors feed one fan-out hub:
//
//	┌──────────────┐    ┌──────────────┐
//	│  sotawatch   │    │     rbn      │   Inputs: HTTP feed poller,
//	│  (HTTP poll) │    │ (TCP stream) │   telnet cluster stream
//	└──────┬───────┘    └──────┬───────┘
//	       │ spot events       │ streamed spots
//	       ▼                   ▼
//	┌─────────────────────────────────┐
//	│              hub                │   Websocket fan-out with
//	│  snapshot · broadcast · filter  │   per-client stream filters
//	└─────────────────────────────────┘
//	       │
//	       ▼ optional republish
//	┌─────────────────────────────────┐
//	│            natspub              │   NATS bridge for other
//	└─────────────────────────────────┘   backend consumers
//
// The sotawatch poller keeps an id-ordered live cache of current spots:
// every poll checks a cheap epoch token, loads a batch only on change,
// diffs against the cache, reconciles upstream deletions on full loads and
// expires overaged entries. The rbn ingestor holds a persistent TCP
// connection guarded by a read watchdog and keeps a bounded history for
// filtered replays.
//
// Components implement the contracts in the component package and are
// constructed and wired explicitly in cmd/sotlas-api. Reference data
// (summits, associations, known activators) comes from JetStream KV buckets
// via the refdata package; the service runs degraded without NATS.
package sotlasapi
