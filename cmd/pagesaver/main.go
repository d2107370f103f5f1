// Command pagesaver saves web pages: visible, full-page and area
// screenshots, bulk image downloads and same-prefix site archives. It can
// also serve the same operations over HTTP and MCP.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.As(err, new(reported)) {
			pterm.Error.Println(err)
		}
		cancel()
		os.Exit(1)
	}
}

// reported wraps an error that a command already showed to the user.
type reported struct{ error }

func (r reported) Unwrap() error { return r.error }
