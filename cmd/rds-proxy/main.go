package main

import (
	"os"

	"github.com/blik616287/rds-proxy/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
