package main

import (
	"log"

	"github.com/quillpost/quillpost/cmd/quillctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
