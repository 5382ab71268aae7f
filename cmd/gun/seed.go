package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"golang.org/x/term"
)

// loadOrCreateSeed reads the hex-encoded seed at seedPath, generating
// and persisting a fresh one on first run. The file is plaintext per
// gun's design: the passphrase the user supplies protects the wallet
// database, not this file, so seedPath's permissions are the only
// thing standing between an attacker and the funds.
func loadOrCreateSeed(seedPath string) ([]byte, bool, error) {
	raw, err := os.ReadFile(seedPath)
	if err == nil {
		seed, decErr := hex.DecodeString(strings.TrimSpace(string(raw)))
		if decErr != nil {
			return nil, false, fmt.Errorf("parse seed file %s: %w", seedPath, decErr)
		}
		return seed, false, nil
	}
	if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("read seed file %s: %w", seedPath, err)
	}

	seed, err := hdkeychain.GenerateSeed(hdkeychain.RecommendedSeedLen)
	if err != nil {
		return nil, false, fmt.Errorf("generate seed: %w", err)
	}
	if err := os.WriteFile(seedPath, []byte(hex.EncodeToString(seed)+"\n"), 0600); err != nil {
		return nil, false, fmt.Errorf("write seed file %s: %w", seedPath, err)
	}
	return seed, true, nil
}

// promptPassphrase reads a passphrase from the controlling terminal
// without echoing it, falling back to a single newline-terminated line
// on stdin when stdin isn't a terminal (e.g. piped into a script or
// test harness).
func promptPassphrase(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		pass, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("read passphrase: %w", err)
		}
		return pass, nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && len(line) == 0 {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

// confirmNewPassphrase prompts twice and requires the two entries to
// match, the same double-entry guard btcwallet's own `create` CLI
// path applies when a private passphrase is first established.
func confirmNewPassphrase() ([]byte, error) {
	first, err := promptPassphrase("Enter a new wallet passphrase: ")
	if err != nil {
		return nil, err
	}
	second, err := promptPassphrase("Confirm passphrase: ")
	if err != nil {
		return nil, err
	}
	if string(first) != string(second) {
		return nil, fmt.Errorf("passphrases do not match")
	}
	return first, nil
}
