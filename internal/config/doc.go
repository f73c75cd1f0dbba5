// Package config handles configuration loading for veche.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults; a missing file or
// unset section falls back to Default().
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${VECHE_DB_PATH}"
//
// Only the braced form ${VAR_NAME} is expanded; unset variables expand to
// the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	polls:
//	  auto_close_after: "24h"
//	  duplicate_window: "1h"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Database:
//
//	database:
//	  path: "/var/lib/veche/veche.db"
//
// Poll behavior:
//
//	polls:
//	  default_threshold: 50      # percent, 1-100
//	  max_options: 10
//	  max_question_len: 300
//	  max_option_len: 100
//	  auto_close_after: "24h"
//	  duplicate_window: "1h"
//
// Rate limiting:
//
//	rate_limit:
//	  limit: 10                  # gated commands per window
//	  max_users: 1000
//	  window: "1h"
//	  sweep_interval: "1m"
//
// Wizard sessions:
//
//	sessions:
//	  max: 1000
//	  idle_timeout: "2h"
//	  sweep_interval: "10m"
//
// Display preferences:
//
//	display:
//	  show_author: false
//	  show_date: false
//	  show_vote_counts: true
//	  show_voter_names: false
//	  show_decision_status: true
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Database path presence
//   - Threshold range (1-100)
//   - Option count minimum (2)
//   - Rate limit and session cap minimums
//   - Duration format validity
//
// # Usage
//
//	cfg, err := config.Load("/etc/veche/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
