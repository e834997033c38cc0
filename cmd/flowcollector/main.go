// Command flowcollector is an example program wiring the flowcol core into
// a runnable IPFIX/NetFlow v9 collector: it is boundary glue, not part of
// the core itself (XML config loading, plugin discovery, daemonization and
// the raw accept loop are explicitly out of scope for the core and live
// here instead).
package main

import (
	"fmt"
	"os"

	"github.com/flowcol/flowcol/cmd/flowcollector/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
