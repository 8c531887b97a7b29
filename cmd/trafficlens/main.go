package main

import (
	"os"

	"github.com/trafficlens/trafficlens/cmd/trafficlens/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
