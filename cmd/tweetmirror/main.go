package main

import (
	"os"

	"github.com/mkarpov/tweetmirror/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
