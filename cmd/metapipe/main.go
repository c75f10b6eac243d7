package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"metapipe/internal/cli"
)

func main() {
	inv, err := cli.ParseInvocation(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCodeFor(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(cli.Execute(ctx, inv, os.Stdin, os.Stdout, os.Stderr))
}
