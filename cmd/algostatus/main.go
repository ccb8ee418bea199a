package main

import (
	"algo-status-ingest/internal/cli"
)

func main() {
	cli.Execute()
}
