package main

import (
	"os"

	"resgraph/internal/cliapp"
)

func main() {
	os.Exit(cliapp.Run(os.Args[1:]))
}
