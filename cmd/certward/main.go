// cmd/certward/main.go
package main

import (
	"os"

	"github.com/hearthd/certward/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
