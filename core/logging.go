package dialogrt

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger returns a logrus.FieldLogger configured from the LOG_LEVEL
// environment variable (§6, CLI surface). Operational logs routed through
// this logger are distinct from the append-only trace audit log carried on
// DialogueState (§3).
func NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)
	log.SetLevel(parseLogLevel(os.Getenv("LOG_LEVEL")))
	return log
}

func parseLogLevel(raw string) logrus.Level {
	if raw == "" {
		return logrus.InfoLevel
	}
	lvl, err := logrus.ParseLevel(raw)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// sessionLogger returns a logger tagged with the session/flow/node fields
// used throughout the graph runtime as structured fields.
func sessionLogger(base *logrus.Logger, sessionID, flowID, node string) *logrus.Entry {
	return base.WithFields(logrus.Fields{
		"session_id": sessionID,
		"flow_id":    flowID,
		"node":       node,
	})
}
