// Command loom runs scenarios against the block manager and inspects the
// archives and journals they produce.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/loom/internal/cli"
)

func main() {
	err := cli.NewRootCommand().ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
