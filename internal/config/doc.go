// Package config handles configuration loading for passkeyd.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	session:
//	  secret: "${PASSKEY_SESSION_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	webauthn:
//	  challenge_ttl: "5m"
//	session:
//	  ttl: "24h"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Relying party identity and ceremony policy:
//
//	webauthn:
//	  rp_id: "example.com"
//	  origin: "https://example.com"
//	  challenge_ttl: "5m"
//	  allow_sign_count_regression: false
//
// Database:
//
//	database:
//	  path: "/var/lib/passkeyd/passkeyd.db"
//
// Cache tier:
//
//	cache:
//	  cleanup_interval: "1m"
//
// Sessions:
//
//	session:
//	  secret: "${PASSKEY_SESSION_SECRET}"  # min 32 bytes
//	  ttl: "24h"
//
// Security monitoring:
//
//	monitor:
//	  slow_threshold: "2s"
//	  failure_window: "15m"
//	  audit_retention: "720h"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Metrics:
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Validation
//
// Load() validates:
//
//   - Server HTTP address presence
//   - Relying party ID and origin presence
//   - Session secret minimum length (32 bytes)
//   - Duration format validity
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/passkeyd/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
