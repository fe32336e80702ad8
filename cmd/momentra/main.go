package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"momentra/internal/app"
)

func main() {
	var cfgPath, user string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml")
	flag.StringVar(&user, "user", "default", "user id to act as")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	cli := app.NewCLI(a, user, os.Stdout)
	runErr := cli.Run(ctx, flag.Args())

	if err := a.Stop(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "shutdown:", err)
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, "error:", runErr)
		os.Exit(1)
	}
}
