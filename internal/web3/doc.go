// Package web3 houses blockchain connectivity utilities for the daemon,
// namely the YAML chain definitions and a lazy receipt verifier that reports
// whether a signed transaction landed on chain. Verification is best effort
// and entirely optional.
package web3
