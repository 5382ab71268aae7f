// Command gun is a command-line Bitcoin wallet that additionally
// implements a two-round peer-to-peer DLC-style betting protocol
// mediated by a public attestation oracle. See the package docs under
// engine, betcrypto and codec for the protocol itself; this package is
// the thin CLI shell around it.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli"
)

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gun"
	}
	return filepath.Join(home, ".gun")
}

func main() {
	app := cli.NewApp()
	app.Name = "gun"
	app.Usage = "a command-line Bitcoin wallet with peer-to-peer oracle-settled bets"
	app.Version = "0.1.0"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "d",
			Usage: "data directory",
			Value: defaultDataDir(),
		},
		cli.BoolFlag{
			Name:  "j",
			Usage: "JSON output",
		},
		cli.BoolFlag{
			Name:  "s",
			Usage: "sync the bet store before running the command",
		},
		cli.IntFlag{
			Name:  "feerate",
			Usage: "override the configured default fee rate, in sat/vByte",
		},
		cli.StringFlag{
			Name:  "torsocks",
			Usage: "Tor SOCKS5 proxy address; when set, all oracle and chain-backend requests use it (a .onion chain backend uses Tor's default port without it)",
		},
		cli.StringFlag{
			Name:  "loglevel",
			Usage: "log level (trace, debug, info, warn, error, critical, off)",
			Value: "info",
		},
	}

	app.Before = func(c *cli.Context) error {
		dataDir := c.GlobalString("d")
		if err := os.MkdirAll(dataDir, 0700); err != nil {
			return cli.NewExitError(fmt.Sprintf("create data directory: %v", err), 3)
		}
		logFile := filepath.Join(dataDir, "gun.log")
		if _, err := setupLoggers(logFile, parseLogLevel(c.GlobalString("loglevel"))); err != nil {
			return cli.NewExitError(err.Error(), 3)
		}
		return nil
	}

	app.Commands = []cli.Command{
		{
			Name:   "init",
			Usage:  "initialize a new data directory and wallet seed",
			Action: cmdInit,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "network", Usage: "mainnet, testnet3, regtest or signet"},
				cli.StringFlag{Name: "esplora", Usage: "Esplora-compatible REST API base URL"},
			},
		},
		{
			Name:  "address",
			Usage: "manage receive addresses",
			Subcommands: []cli.Command{
				{Name: "new", Usage: "derive and show a fresh receive address", Action: cmdAddressNew},
				{Name: "list", Usage: "show the current receive address", Action: cmdAddressList},
				{Name: "last-unused", Usage: "show the current unused receive address", Action: cmdAddressLastUnused},
			},
		},
		{
			Name:   "balance",
			Usage:  "show the wallet's spendable balance",
			Action: cmdBalance,
		},
		{
			Name:   "send",
			Usage:  "send <value_sat|all> <address>",
			Action: cmdSend,
		},
		{
			Name:   "split",
			Usage:  "split <value_sat> <n> -- divide value across n fresh UTXOs",
			Action: cmdSplit,
		},
		{
			Name:  "bet",
			Usage: "propose, offer, take, cancel and claim bets",
			Subcommands: []cli.Command{
				{Name: "propose", Usage: "propose <value_sat> <oracle_id> <event_path>", Action: cmdBetPropose},
				{Name: "offer", Usage: "offer <value_sat> <outcome_label> <proposal_envelope>", Action: cmdBetOffer},
				{Name: "take", Usage: "take <bet_id> <value_sat> <offer_blob>", Action: cmdBetTake},
				{Name: "ingest-receipt", Usage: "ingest-receipt <bet_id> <receipt>", Action: cmdBetIngestReceipt},
				{Name: "cancel", Usage: "cancel <bet_id>", Action: cmdBetCancel},
				{
					Name:   "claim",
					Usage:  "claim <bet_id>",
					Action: cmdBetClaim,
					Flags: []cli.Flag{
						cli.BoolFlag{Name: "all", Usage: "claim every bet currently in state won"},
					},
				},
				{Name: "list", Usage: "list every bet", Action: cmdBetList},
				{
					Name:   "inspect",
					Usage:  "inspect <bet_id>",
					Action: cmdBetInspect,
					Flags: []cli.Flag{
						cli.BoolFlag{Name: "debug", Usage: "dump every field, including adaptor signatures"},
					},
				},
				{
					Name:  "oracle",
					Usage: "manage trusted oracles",
					Subcommands: []cli.Command{
						{
							Name:   "add",
							Usage:  "add <resolver_addr> <oracle_id> <event_url_pattern>",
							Action: cmdBetOracleAdd,
							Flags: []cli.Flag{
								cli.BoolFlag{Name: "yes", Usage: "skip the interactive key confirmation prompt"},
							},
						},
						{Name: "remove", Usage: "remove <oracle_id>", Action: cmdBetOracleRemove},
					},
				},
			},
		},
		{
			Name:   "daemon",
			Usage:  "run a background process that periodically syncs bets and exposes metrics",
			Action: cmdDaemon,
			Flags: []cli.Flag{
				cli.IntFlag{Name: "interval", Usage: "seconds between sync passes", Value: 30},
				cli.StringFlag{Name: "metrics-addr", Usage: "address to serve Prometheus metrics on, e.g. :9332"},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		if exitErr, ok := err.(cli.ExitCoder); ok {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
