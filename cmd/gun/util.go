package main

import (
	"context"

	"github.com/urfave/cli"

	"github.com/llfourn/gun-ng/gunerr"
)

// contextBackground is the root context every CLI command issues its
// blocking oracle/chain calls under; gun never derives a
// request-scoped context from anything shorter-lived since each
// command's own process lifetime is the natural cancellation boundary.
func contextBackground() context.Context {
	return context.Background()
}

// translateErr maps an Engine/Wallet-layer error to the CLI's exit
// code contract (0 success, 1 user error, 2 network/IO, 3 data
// integrity), reading a *gunerr.Error's Kind when present and falling
// back to exit code 1 for anything else.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	kind, ok := gunerr.KindOf(err)
	if !ok {
		return cli.NewExitError(err.Error(), 1)
	}
	return cli.NewExitError(err.Error(), kind.ExitCode())
}
