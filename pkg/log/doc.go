/*
Package log provides structured logging for Memory Palace using zerolog.

All logs are JSON by default and carry timestamps. Components obtain a
child logger scoped to their name via WithComponent, and request-scoped
code adds memory_id/session_id/job_id fields via the With* helpers below.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	laneLog := log.WithComponent("write_lane")
	laneLog.Info().Str("memory_id", id).Msg("write admitted")

	log.WithMemoryID(id).Warn().Msg("vitality at floor")
*/
package log
