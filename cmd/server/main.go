// Command server runs the sharekeeper HTTP API.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/sharekeeper/internal/server"
	"github.com/dmitrijs2005/sharekeeper/internal/server/config"
)

func main() {
	ctx := context.Background()

	app, err := server.NewApp(ctx, config.LoadConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "sharekeeper server: %v\n", err)
		os.Exit(1)
	}

	// Run blocks until SIGINT/SIGTERM, then drains the HTTP server.
	app.Run(ctx)
}
