package main

import (
	"os"

	"github.com/nijaru/yt-transcript/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:], os.Stdout, os.Stderr))
}
