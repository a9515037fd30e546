package main

import (
	"os"
)

func main() {
	if err := startTenebrad(); err != nil {
		os.Exit(1)
	}
}
