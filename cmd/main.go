package main

import (
	"os"

	"github.com/soundprediction/kgindex/cmd/kgindex"
)

func main() {
	if err := kgindex.Execute(); err != nil {
		os.Exit(1)
	}
}
