/*
Package log provides structured logging for dagflow using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("pgsource")                │          │
	│  │  - WithNode("demo/source")                  │          │
	│  │  - WithEpoch(42)                            │          │
	│  │  - WithPort("demo/source", 0)                │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "pgsource",                 │          │
	│  │    "time": "2026-07-29T10:30:00Z",          │          │
	│  │    "message": "polled rows"                  │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2026-07-29T10:30:00Z INF polled rows component=pgsource │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from every dagflow package
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Tag logs with a package/connector name
  - WithNode: Tag logs with the DAG node handle being reported on
  - WithEpoch: Tag logs with the epoch ID currently being processed
  - WithPort: Tag logs with a node/port pair

# Usage

Initializing the Logger:

	import "github.com/dagflow/dagflow/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("engine started")
	log.Debug("polling source")
	log.Warn("channel send stalled")
	log.Error("storage commit failed")
	log.Fatal("cannot open record store") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("node", "demo/source").
		Uint64("epoch", 7).
		Msg("epoch sealed")

Component Loggers:

	pgLog := log.WithComponent("pgsource")
	pgLog.Info().Int("rows", 12).Msg("polled rows")

	nodeLog := log.WithNode("demo/sink").With().
		Uint64("epoch", 7).Logger()
	nodeLog.Info().Msg("committed")

Complete Example:

	package main

	import (
		"os"

		"github.com/dagflow/dagflow/pkg/log"
	)

	func main() {
		log.Init(log.Config{
			Level:      log.InfoLevel,
			JSONOutput: true,
			Output:     os.Stdout,
		})

		log.Info("dagflow starting")

		srcLog := log.WithComponent("pgsource")
		srcLog.Info().Str("table", "events").Msg("polling started")

		log.Info("dagflow stopped")
	}

# Integration Points

This package integrates with:

  - pkg/engine: logs worker lifecycle, epoch sealing, shutdown
  - pkg/store: logs transaction commit failures
  - internal/connector/*: each connector logs through its own
    WithComponent child logger (pgsource, objectstore-source,
    objectstore-sink, ethlog, kafkasource)
  - cmd/dagflow: logs CLI startup, run_id, and shutdown

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing

Context Logger Pattern:
  - Create child loggers with context fields (component, node, epoch, port)
  - Pass context loggers down to the goroutine that owns them
  - Avoids repetitive field specification at every call site

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Uint64, .Err)
  - Enables log aggregation and querying
  - Parseable by log analysis tools

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
*/
package log
