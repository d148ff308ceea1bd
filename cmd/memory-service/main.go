package main

import (
	"os"

	"github.com/mnemon-ai/mnemon/memoryservice"
)

func main() {
	if err := memoryservice.Run(); err != nil {
		os.Exit(1)
	}
}
