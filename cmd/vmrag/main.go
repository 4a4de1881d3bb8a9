// Command vmrag synchronizes a versioned document store with a vector store
// and serves both over MCP.
package main

import (
	"os"

	"github.com/vmrag/vmrag/cmd/vmrag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
