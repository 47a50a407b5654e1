// Command docdbctl is an operational CLI for a docdb store: list and
// inspect backend maps, read/write raw keys, and report size and
// metrics, without requiring a Go program of your own.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
