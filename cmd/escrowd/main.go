package main

import (
	"log"

	"earnescrow/services/escrowd"
)

func main() {
	if err := escrowd.Main(); err != nil {
		log.Fatalf("escrowd: %v", err)
	}
}
