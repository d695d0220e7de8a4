package main

import (
	"os"

	"github.com/Karbash/Prometheus-Hephaestus-sub002/cmd/server/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
