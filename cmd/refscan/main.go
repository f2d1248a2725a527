package main

import (
	"os"

	"github.com/refscan/refscan/cmd/refscan/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
