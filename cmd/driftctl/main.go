package main

import (
	"log"

	"github.com/avandyck/drifthook/cmd/driftctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
