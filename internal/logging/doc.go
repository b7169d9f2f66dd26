// Package logging provides structured logging for arbiter runs.
//
// It wraps log/slog with a JSON handler and carries persistent attributes
// (session, proposal, agent, decision step) on child loggers so a single
// decision can be followed through the log after the fact.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(logging.Options{Dir: ".arbiter/logs", Level: "info"})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	plog := logger.WithSession("session-0004").WithProposal("prop_20260101_agent-a_001")
//	plog.Info("classification resolved", "classification", "behavioral")
//
// Components accept an optional *Logger and fall back to [NopLogger].
//
// # Thread Safety
//
// Logger and RotatingWriter are safe for concurrent use; child loggers share
// the underlying writer.
package logging
