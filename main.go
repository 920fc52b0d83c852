package main

import (
	"github.com/formsentry/formsentry/cmd"
	"github.com/formsentry/formsentry/internal/observability"
)

// main is the entry point for the formsentry CLI.
func main() {
	// Flush any buffered log entries on the way out.
	defer observability.Sync()
	cmd.Execute()
}
