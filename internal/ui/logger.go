// Package ui provides terminal UI components and styling for codeatlas.
package ui

import (
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// InitLogger initializes the charm logger with default settings. Logs go
// to stderr so stdout stays clean for results and protocol traffic.
func InitLogger() {
	log.SetOutput(os.Stderr)
	log.SetLevel(log.InfoLevel)
	log.SetReportCaller(false)
	log.SetReportTimestamp(false)
}

// SetDebug enables debug logging. Debug output carries timestamps so
// indexing stages can be correlated.
func SetDebug(enabled bool) {
	if enabled {
		log.SetLevel(log.DebugLevel)
		log.SetReportTimestamp(true)
		log.SetTimeFormat(time.Kitchen)
	} else {
		log.SetLevel(log.InfoLevel)
		log.SetReportTimestamp(false)
	}
}
