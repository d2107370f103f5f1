package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/pagesaver/saver"
)

const version = "1.0.0"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the REST API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default from config, 127.0.0.1:8087)")
	serveCmd.Flags().Bool("allow-private", false, "allow capturing loopback and private-network URLs")
	mcpCmd.Flags().Bool("allow-private", false, "allow capturing loopback and private-network URLs")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.Serve.Addr
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		addr = v
	}
	allowPrivate, _ := cmd.Flags().GetBool("allow-private")

	files := ""
	if a.cfg.Output.Dir != "-" {
		files = a.cfg.Output.Dir
	}
	srv := &http.Server{
		Addr: addr,
		Handler: a.saver.Handler(saver.HTTPOptions{
			FilesRoot:    files,
			RateLimit:    a.cfg.Serve.RateLimit,
			AllowPrivate: allowPrivate || a.cfg.Serve.AllowPrivate,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Info("pagesaver: server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	pterm.Info.Printfln("Listening on http://%s", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	a.log.Info("pagesaver: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("pagesaver: shutdown", "error", err)
	}
	return nil
}

func runMCP(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	allowPrivate, _ := cmd.Flags().GetBool("allow-private")
	srv := mcp.NewServer(&mcp.Implementation{Name: "pagesaver", Version: version}, nil)
	a.saver.RegisterMCP(srv, saver.MCPOptions{AllowPrivate: allowPrivate || a.cfg.Serve.AllowPrivate, Logger: a.log})

	a.log.Info("pagesaver: mcp serving on stdio")
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
