// Command eresion runs the temporal pattern engine.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/eresion/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
