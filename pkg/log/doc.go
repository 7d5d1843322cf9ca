/*
Package log provides structured logging for knbase using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level.

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers:

	machineLog := log.WithComponent("machine")
	machineLog.Info().Int64("task_id", id).Msg("preprocessing task completed")

Content hashes appear in many log lines; use log.Hash to render them:

	logger.Debug().Str("hash", log.Hash(resource.Hash)).Msg("resource updated")

# Integration Points

This package integrates with:

  - pkg/machine: logs state transitions and task graph mutations
  - pkg/scanhub: logs per-base scan lifecycles
  - pkg/processhub: logs task dispatch and completion
  - pkg/filescanner: logs directory diff passes
*/
package log
