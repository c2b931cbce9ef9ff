/*
Package log provides structured logging for Council using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all Council packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information (per-request tracing)
  - Info: General informational messages (lifecycle events)
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithNodeID: Add attribute-value node ID context
  - WithChangeSetID: Add change set ID context
  - WithReplyChannel: Add worker reply-channel context

# Usage

Initializing the Logger:

	import "github.com/cuemby/council/pkg/log"

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

	log.Info("coordinator started")
	log.Debug("checking queue depth")
	log.Warn("reply channel unresponsive")
	log.Error("failed to publish notification")
	log.Fatal("cannot start without a configured bus") // exits process

Component Loggers:

	coordLog := log.WithComponent("coordinator")
	coordLog.Info().Msg("coordinator started")
	coordLog.Debug().Str("change_set_id", id.String()).Msg("handling request")

Context Logger Helpers:

	csLog := log.WithChangeSetID(changeSetID.String())
	csLog.Info().Msg("change set graph merged")

	rcLog := log.WithReplyChannel(string(replyChannel))
	rcLog.Warn().Msg("worker disconnected")

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance, initialized once at startup
  - Accessible from all packages without passing a logger through every call

Context Logger Pattern:
  - Create child loggers carrying change-set/node/reply-channel fields
  - Pass them down into the coordinator loop so every log line is
    attributable to the request that produced it

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err) rather than string concatenation,
    so logs remain queryable by log aggregation tools

# Security

Never log full graph payloads or reply-channel contents that could carry
worker-provided data verbatim; log identifiers and counts instead.
*/
package log
