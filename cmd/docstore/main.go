// Command docstore operates a versioned document store.
package main

import (
	"os"

	"github.com/roach88/docstore/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
