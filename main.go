package main

import (
	"os"

	"github.com/rizwan0110/JobSearch-Agent/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
