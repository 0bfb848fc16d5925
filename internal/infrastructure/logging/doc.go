// Package logging provides structured logging for driverd.
//
// It wraps log/slog so every entry carries the service name and version,
// and so component loggers can be derived with With:
//
//	logger := logging.New(cfg.Logging, version)
//	drvLog := logger.With("component", "driver", "moniker", "zw-main")
//	drvLog.Info("connected", "port", "/dev/ttyACM0")
//
// Packages that log declare their own narrow Logger interface; *Logger
// satisfies all of them.
//
// Never log secrets such as MQTT passwords or InfluxDB tokens.
package logging
