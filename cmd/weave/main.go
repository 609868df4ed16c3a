// Command weave deploys workflow definitions and drives their instances.
package main

import (
	"os"

	"github.com/roach88/weave/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
