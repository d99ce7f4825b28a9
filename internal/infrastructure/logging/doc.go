// Package logging provides structured logging for the clip bridge.
//
// It wraps log/slog so every package logs the same way, and adds
// size-based file rotation through lumberjack.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file:
//	    path: "/var/log/clipbridge/bridge.log"
//	    max_size: 50     # megabytes
//	    max_backups: 5
//	    max_age: 28      # days
//	    compress: true
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	defer logger.Close()
//	logger.Info("device provisioned", "device_id", id)
//
// Never log broker passwords or tokens. Log config.Config via its String
// method, which redacts them.
package logging
