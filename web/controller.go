// File: web/controller.go
package web

import (
	"time"

	"github.com/jsj9346/makenaide-sub002/pkg/executor"
	"github.com/jsj9346/makenaide-sub002/utilities"
)

// StatusData is the JSON document served by the /status endpoint.
type StatusData struct {
	Version               string                        `json:"version"`
	DryRun                bool                          `json:"dry_run"`
	CircuitBreakerTripped bool                          `json:"circuit_breaker_tripped"`
	OpenPositions         map[string]utilities.Position `json:"open_positions"`
	TotalUnrealizedPnL    float64                       `json:"total_unrealized_pnl"`
	QuoteCurrency         string                        `json:"quote_currency"`
	Stats                 executor.SessionStats         `json:"stats"`
	SessionStart          time.Time                     `json:"session_start"`
}

// StatusController is the slice of the trading session the web package
// needs. The session implements it; the web package never reaches into
// trading state directly.
type StatusController interface {
	StatusSnapshot() StatusData
	Logger() *utilities.Logger
}
