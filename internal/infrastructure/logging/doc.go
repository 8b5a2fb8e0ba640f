// Package logging provides structured logging for ColdWatch Core.
//
// It wraps log/slog so every component logs the same way: JSON in
// production, text when developing, and a service/version pair on every
// entry. Components receive a child logger via Component:
//
//	logger := logging.New(cfg.Logging, version)
//	gw := ingest.New(cfg.Ingest, scorer, proc, logger.Component("ingest"))
//
// Configuration (config.yaml):
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log device auth secrets or broker credentials.
package logging
