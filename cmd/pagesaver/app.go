package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/pagesaver/dbopen"
	"github.com/hazyhaar/pagesaver/internal/audit"
	"github.com/hazyhaar/pagesaver/internal/browser"
	"github.com/hazyhaar/pagesaver/internal/config"
	"github.com/hazyhaar/pagesaver/internal/fetcher"
	"github.com/hazyhaar/pagesaver/internal/sink"
	"github.com/hazyhaar/pagesaver/internal/store"
	"github.com/hazyhaar/pagesaver/saver"
)

// app is everything one command invocation needs.
type app struct {
	cfg   *config.Config
	log   *slog.Logger
	mgr   *browser.Manager
	store *store.Store
	audit *audit.Logger
	out   sink.Sink
	saver *saver.Saver
}

// newApp loads configuration, opens the output and the history store and,
// when withBrowser is set, starts Chrome.
func newApp(ctx context.Context, cmd *cobra.Command, withBrowser bool) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: newLogger(cmd)}

	if a.out, err = newSink(cfg, a.log); err != nil {
		return nil, err
	}
	if cfg.Output.DB != "" {
		if a.store, err = store.Open(cfg.Output.DB, dbopen.WithSchema(audit.Schema)); err != nil {
			a.Close()
			return nil, err
		}
		a.audit = audit.New(a.store.DB, 256, audit.WithLogger(a.log))
	}

	var opener saver.Opener = saver.OpenerFunc(func(context.Context, string) (saver.Tab, error) {
		return nil, errors.New("no browser available")
	})
	if withBrowser {
		a.mgr = browser.NewManager(browserConfig(cfg, a.log))
		if err := a.mgr.Start(ctx); err != nil {
			a.Close()
			return nil, err
		}
		opener = saver.BrowserOpener(a.mgr)
	}

	a.saver = saver.New(saver.Options{
		Opener:     opener,
		Out:        a.out,
		Store:      a.store,
		Audit:      a.audit,
		Downloader: fetcher.New(fetcher.WithLogger(a.log)),
		Config:     cfg,
		Logger:     a.log,
	})
	return a, nil
}

func (a *app) Close() {
	if a.mgr != nil {
		if err := a.mgr.Close(); err != nil {
			a.log.Warn("pagesaver: close browser", "error", err)
		}
	}
	if a.audit != nil {
		a.audit.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.out != nil {
		if err := a.out.Close(); err != nil {
			a.log.Warn("pagesaver: close output", "error", err)
		}
	}
}

func browserConfig(cfg *config.Config, log *slog.Logger) browser.Config {
	b := cfg.Browser
	return browser.Config{
		RemoteURL:        b.Remote,
		Mode:             browser.ParseMode(b.Mode),
		Stealth:          b.Stealth,
		Width:            b.Viewport.Width,
		Height:           b.Viewport.Height,
		Scale:            b.Viewport.Scale,
		ResourceBlocking: b.ResourceBlocking,
		NavigateTimeout:  b.NavigateTimeout,
		MemoryLimit:      b.MemoryLimit,
		RecycleInterval:  b.RecycleInterval,
		XvfbDisplay:      b.XvfbDisplay,
		Logger:           log,
	}
}

// newSink writes to the output directory, or to stdout when the directory
// is "-", and mirrors to the webhook when one is configured.
func newSink(cfg *config.Config, log *slog.Logger) (sink.Sink, error) {
	var primary sink.Sink
	if cfg.Output.Dir == "-" {
		primary = sink.NewStdout()
	} else {
		d, err := sink.NewDir(cfg.Output.Dir)
		if err != nil {
			return nil, err
		}
		primary = d
	}
	if cfg.Output.Webhook == "" {
		return primary, nil
	}
	return sink.NewRouter(log, primary, sink.NewWebhook(cfg.Output.Webhook, sink.WithWebhookLogger(log))), nil
}
