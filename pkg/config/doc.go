// Package config loads the tally server configuration from environment
// variables and the per-entity audit policies from a YAML file.
//
// # Environment
//
// Server settings:
//
//	TALLY_HOST="0.0.0.0"
//	TALLY_PORT="8080"
//	TALLY_USER_HEADER="X-User-ID"
//	TALLY_TRUST_PROXIES="false"
//
// Storage settings (a backend is enabled when its address is set):
//
//	TALLY_DATABASE_URL="postgres://localhost/tally?sslmode=disable"
//	TALLY_DATABASE_DRIVER="postgres"  # postgres, sqlite3
//	TALLY_FILE_PATH="/var/log/tally"
//	TALLY_REDIS_URL="redis://localhost:6379"
//	TALLY_S3_BUCKET="tally-audits"
//	TALLY_MULTI_DRIVERS="database,s3"
//
// Audit settings:
//
//	TALLY_AUDIT_DRIVER="database"     # null, memory, database, file, redis, s3, multi
//	TALLY_AUDIT_RESOLVER="context"    # context, anonymous, system
//	TALLY_AUDIT_THRESHOLD="0"
//	TALLY_POLICY_FILE="/etc/tally/policies.yaml"
//	TALLY_RETENTION_MAX_AGE="2160h"
//	TALLY_RETENTION_SCHEDULE="30 3 * * *"
//
// # Policy file
//
//	defaults:
//	  exclude: [password]
//	entities:
//	  User:
//	    events: [created, updated, deleted, archived]
//	    custom_events: [archived]
//	    handlers:
//	      archived: deleted
//	    driver: database
//	    threshold: 50
//
// Entity types without an entry use the defaults. PolicySet.Watch reloads
// the file on change; a file that fails validation is ignored and the
// previous policies stay in effect.
package config
