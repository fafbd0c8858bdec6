package main

import (
	"log"

	"github.com/lkarlslund/copilot-relay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
