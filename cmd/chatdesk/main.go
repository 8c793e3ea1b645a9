package main

import (
	"context"
	"os"

	"github.com/yndnr/chatdesk/internal/cli/command"
)

func main() {
	os.Exit(command.Main(context.Background(), os.Args, os.Stdin, os.Stdout, os.Stderr))
}
