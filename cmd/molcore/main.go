// Command molcore is the molcore command line.
package main

import (
	"os"

	"github.com/turtacn/molcore/internal/interfaces/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
