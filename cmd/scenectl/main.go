// Command scenectl runs the scene pipeline's offline tools: validating and
// compiling scene code, inspecting the template catalog and minting
// development tokens.
package main

import (
	"os"

	log "github.com/sirupsen/logrus"
)

func main() {
	log.SetLevel(log.WarnLevel)
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
