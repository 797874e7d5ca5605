// Package audit records the lifecycle changes of host entities as
// immutable audit records.
//
// # Overview
//
// A host calls RecordEvent after it has persisted a create, update, delete
// or restore. The event passes a gate, its changes are computed by a diff
// strategy, the acting user is resolved and a Record is assembled with the
// request metadata found on the context. The record is handed to the sink
// selected by the entity's driver and the entity's history is then trimmed
// to its retention threshold.
//
// # Configuration
//
// Config describes one entity type: auditable events, custom events and
// their handlers, include/exclude filters, driver, threshold and an
// optional transform. Auditor.For validates a Config and binds it:
//
//	registry := audit.NewRegistry(audit.DriverDatabase)
//	registry.Register(audit.DriverDatabase, dbSink)
//
//	auditor := audit.NewAuditor(registry, audit.WithLogger(logger))
//	articles, err := auditor.For(audit.Config{
//		Exclude:   []string{"password"},
//		Threshold: 100,
//	})
//
//	record, stored, err := articles.RecordEvent(ctx, audit.Snapshot{
//		Type:     "Article",
//		ID:       "42",
//		Current:  current,
//		Original: original,
//	}, audit.EventUpdated)
//
// Catalog caches bound Auditables per entity type for servers that load
// policies from a ConfigSource.
//
// # Sinks
//
// Bundled drivers: null, memory, database (PostgreSQL or SQLite), file,
// redis, s3 and multi. Sinks may additionally implement Pruner (threshold
// enforcement), Querier (history reads) and Expirer (age-based sweep run by
// Sweeper). WithoutAuditing routes every record built under a context to
// the null sink.
//
// # HTTP
//
// Middleware stores the request id, URL, client IP, user agent and user on
// the request context. Handlers exposes history listing, export (json,
// ndjson, csv) and event recording over gorilla/mux.
package audit
