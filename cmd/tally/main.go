// Command tally reconciles upstream subscriptions into the revenue ledger
// and manages installment plans.
//
// Usage:
//
//	tally run --config tally.yaml     # poll until interrupted
//	tally tick                        # one reconciliation pass
//	tally plan create ...             # installment plans
//	tally --help
package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/roach88/tally/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// Structured output already went to stdout; stderr gets the cause.
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
