// Package main provides the entry point for the cpectl CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/cpe/cmd/cpectl/cmd"
)

func main() {
	os.Exit(cmd.Main())
}
