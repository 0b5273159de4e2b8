// Command ledgerd runs the on-device ledger service: the session
// orchestrator, the local control API for the UI shell and, when
// configured, the upload loop of cloud sync.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
