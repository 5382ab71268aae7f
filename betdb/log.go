package betdb

import "github.com/btcsuite/btclog"

// log is this package's subsystem logger, the same per-package
// btclog.Logger + UseLogger pattern lnd and taproot-assets use
// throughout; callers wire it up from cmd/gun/log.go.
var log = btclog.Disabled

// UseLogger sets the package-wide logger used by this package.
func UseLogger(logger btclog.Logger) {
	log = logger
}
