// Package main is the entry point for technoshield.
package main

import (
	"os"

	"github.com/drake-forum/technoshield/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
