package main

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli"

	"github.com/llfourn/gun-ng/contract"
)

func parseBetID(s string) (contract.BetID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid bet id %q", s)
	}
	return contract.BetID(n), nil
}

// cmdBetPropose implements `gun bet propose <value_sat> <oracle_id> <event_path>`.
func cmdBetPropose(c *cli.Context) error {
	if c.NArg() != 3 {
		return cli.NewExitError("usage: gun bet propose <value_sat> <oracle_id> <event_path>", 1)
	}
	value, err := parseAmount(c.Args().Get(0))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	oracleID := contract.OracleID(c.Args().Get(1))
	eventPath := contract.EventPath(c.Args().Get(2))

	return withApp(c, func(app *appCtx) error {
		envelope, bet, err := app.engine.Propose(contextBackground(), value, oracleID, eventPath)
		if err != nil {
			return translateErr(err)
		}
		if c.GlobalBool("j") {
			emitJSON(map[string]interface{}{
				"bet_id":   bet.BetID,
				"proposal": envelope,
			})
		} else {
			fmt.Printf("bet %d created\n%s\n", bet.BetID, envelope)
		}
		return nil
	})
}

// cmdBetOffer implements `gun bet offer <value_sat> <outcome_label> <proposal_envelope>`.
func cmdBetOffer(c *cli.Context) error {
	if c.NArg() != 3 {
		return cli.NewExitError("usage: gun bet offer <value_sat> <outcome_label> <proposal_envelope>", 1)
	}
	value, err := parseAmount(c.Args().Get(0))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	outcomeLabel := c.Args().Get(1)
	envelope := c.Args().Get(2)

	return withApp(c, func(app *appCtx) error {
		offerBlob, bet, err := app.engine.Offer(contextBackground(), value, outcomeLabel, envelope)
		if err != nil {
			return translateErr(err)
		}
		if c.GlobalBool("j") {
			emitJSON(map[string]interface{}{
				"bet_id": bet.BetID,
				"offer":  offerBlob,
			})
		} else {
			fmt.Printf("bet %d offered, send this back to the proposer:\n%s\n", bet.BetID, offerBlob)
		}
		return nil
	})
}

// cmdBetTake implements `gun bet take <bet_id> <value_sat> <offer_blob>`.
func cmdBetTake(c *cli.Context) error {
	if c.NArg() != 3 {
		return cli.NewExitError("usage: gun bet take <bet_id> <value_sat> <offer_blob>", 1)
	}
	betID, err := parseBetID(c.Args().Get(0))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	offererValue, err := parseAmount(c.Args().Get(1))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	offerBlob := c.Args().Get(2)

	return withApp(c, func(app *appCtx) error {
		receipt, bet, err := app.engine.TakeOffer(contextBackground(), betID, offererValue, offerBlob)
		if err != nil {
			return translateErr(err)
		}
		if c.GlobalBool("j") {
			emitJSON(map[string]interface{}{
				"bet_id":  bet.BetID,
				"receipt": receipt,
			})
		} else {
			fmt.Printf("bet %d funded, send this receipt back to the offerer:\n%s\n", bet.BetID, receipt)
		}
		return nil
	})
}

// cmdBetIngestReceipt implements `gun bet ingest-receipt <bet_id> <receipt>`,
// the offerer's half of the take-receipt extension: without it the
// offerer has no way to learn the proposer's adaptor signature for the
// offerer's own winning claim.
func cmdBetIngestReceipt(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.NewExitError("usage: gun bet ingest-receipt <bet_id> <receipt>", 1)
	}
	betID, err := parseBetID(c.Args().Get(0))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	receipt := c.Args().Get(1)

	return withApp(c, func(app *appCtx) error {
		bet, err := app.engine.IngestTakeReceipt(betID, receipt)
		if err != nil {
			return translateErr(err)
		}
		printBet(bet, c.GlobalBool("j"))
		return nil
	})
}

func cmdBetCancel(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("usage: gun bet cancel <bet_id>", 1)
	}
	betID, err := parseBetID(c.Args().Get(0))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	return withApp(c, func(app *appCtx) error {
		bet, err := app.engine.Cancel(betID)
		if err != nil {
			return translateErr(err)
		}
		printBet(bet, c.GlobalBool("j"))
		return nil
	})
}

func cmdBetClaim(c *cli.Context) error {
	all := c.Bool("all")
	if !all && c.NArg() != 1 {
		return cli.NewExitError("usage: gun bet claim <bet_id> | --all", 1)
	}

	return withApp(c, func(app *appCtx) error {
		if all {
			bets, err := app.engine.ClaimAll(contextBackground())
			if err != nil {
				return translateErr(err)
			}
			printBetList(bets, c.GlobalBool("j"))
			return nil
		}

		betID, err := parseBetID(c.Args().Get(0))
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		bet, err := app.engine.Claim(contextBackground(), betID)
		if err != nil {
			return translateErr(err)
		}
		printBet(bet, c.GlobalBool("j"))
		return nil
	})
}

func cmdBetList(c *cli.Context) error {
	return withApp(c, func(app *appCtx) error {
		bets, err := app.engine.ListBets()
		if err != nil {
			return translateErr(err)
		}
		printBetList(bets, c.GlobalBool("j"))
		return nil
	})
}

func cmdBetInspect(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("usage: gun bet inspect <bet_id>", 1)
	}
	betID, err := parseBetID(c.Args().Get(0))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	return withApp(c, func(app *appCtx) error {
		bet, err := app.engine.GetBet(contextBackground(), betID)
		if err != nil {
			return translateErr(err)
		}
		if c.Bool("debug") {
			dumpDebug(bet)
			return nil
		}
		printBet(bet, c.GlobalBool("j"))
		return nil
	})
}

// cmdBetOracleAdd implements `gun bet oracle add <resolver_addr> <oracle_id> <event_url_pattern>`,
// performing the TOFU DNS key fetch and asking the user to confirm the
// returned public key out of band before it is persisted.
func cmdBetOracleAdd(c *cli.Context) error {
	if c.NArg() != 3 {
		return cli.NewExitError("usage: gun bet oracle add <resolver_addr> <oracle_id> <event_url_pattern>", 1)
	}
	resolverAddr := c.Args().Get(0)
	oracleID := contract.OracleID(c.Args().Get(1))
	eventURLPattern := c.Args().Get(2)

	return withApp(c, func(app *appCtx) error {
		oracle, err := app.engine.AddOracle(resolverAddr, oracleID, eventURLPattern)
		if err != nil {
			return translateErr(err)
		}

		fmt.Printf("oracle %s public key (verify out of band before confirming): %x\n",
			oracleID, oracle.PublicKey.SerializeCompressed())
		if !c.Bool("yes") {
			fmt.Print("type \"yes\" to trust this key: ")
			var reply string
			fmt.Scanln(&reply)
			if reply != "yes" {
				return cli.NewExitError("oracle not confirmed", 1)
			}
		}

		if err := app.engine.ConfirmOracle(oracle); err != nil {
			return translateErr(err)
		}
		fmt.Printf("oracle %s added\n", oracleID)
		return nil
	})
}

func cmdBetOracleRemove(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("usage: gun bet oracle remove <oracle_id>", 1)
	}
	oracleID := contract.OracleID(c.Args().Get(0))

	return withApp(c, func(app *appCtx) error {
		if err := app.engine.RemoveOracle(oracleID); err != nil {
			return translateErr(err)
		}
		fmt.Printf("oracle %s removed\n", oracleID)
		return nil
	})
}
