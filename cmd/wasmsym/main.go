package main

import (
	"os"

	"github.com/go-wasmsym/wasmsym/cmd/wasmsym/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
