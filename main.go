// ciesign signs PDF documents with an identity card over NFC.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ciesign/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ciesign: %v\n", err)
		os.Exit(1)
	}
}
