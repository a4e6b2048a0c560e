// Command wtbd is a minimal demonstration binary wiring the core packages
// together: it is not the product surface (spec.md section 1 places the
// HTTP/CLI layer out of scope), just a runnable entrypoint showing how a
// process assembles a config.Config into storage, a state adapter, an
// outbox processor, and the integrity checker.
package main

import (
	"fmt"
	"os"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/cmd/wtbd/wire"
)

func main() {
	if err := wire.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
