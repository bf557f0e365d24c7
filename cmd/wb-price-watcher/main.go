// Package main is the entry point for wb-price-watcher.
package main

import (
	"os"

	"wb-price-watcher/cmd/wb-price-watcher/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
