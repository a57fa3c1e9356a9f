package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"example/dw-batch/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}

	var cfgErr *config.Error
	if errors.As(err, &cfgErr) {
		printConfigError(cfgErr)
		os.Exit(1)
	}
	log.SetFlags(0)
	log.Fatalf("✗ %v", err)
}

func printConfigError(e *config.Error) {
	bar := strings.Repeat("=", 60)
	fmt.Printf("%s\nERROR: %s\n%s\n", bar, e.Problem, bar)
	if len(e.Remedy) > 0 {
		fmt.Println("To fix:")
		for i, r := range e.Remedy {
			fmt.Printf("%d. %s\n", i+1, r)
		}
		fmt.Println(bar)
	}
}
