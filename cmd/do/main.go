package main

import (
	"os"

	"github.com/onetimeview/onetimeview/cmd/do/cmd"
)

func main() {
	if err := cmd.Root().Execute(); err != nil {
		os.Exit(1)
	}
}
