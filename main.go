package main

import (
	"github.com/BioHazard786/peerlink/cmd"
	"github.com/BioHazard786/peerlink/internal/logging"
)

func main() {
	// Initialize logging
	logging.Init()
	cmd.Execute()
}
