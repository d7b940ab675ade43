// Command novaledger manages the append-only, hash-chained national ledger.
package main

import "github.com/ppiankov/novaledger/internal/cli"

func main() {
	cli.Execute()
}
