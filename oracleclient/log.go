package oracleclient

import "github.com/btcsuite/btclog"

// log is this package's subsystem logger; see betdb/log.go for the
// pattern every gun package follows.
var log = btclog.Disabled

// UseLogger sets the package-wide logger used by this package.
func UseLogger(logger btclog.Logger) {
	log = logger
}
