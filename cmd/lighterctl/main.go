package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/logrusorgru/aurora"
	"github.com/samber/mo"

	"github.com/specialjp/lighter-ts-sub000/internal/alert"
	"github.com/specialjp/lighter-ts-sub000/internal/client"
	"github.com/specialjp/lighter-ts-sub000/internal/config"
	"github.com/specialjp/lighter-ts-sub000/internal/core"
	"github.com/specialjp/lighter-ts-sub000/internal/exchange/lighter"
	"github.com/specialjp/lighter-ts-sub000/internal/logging"
	"github.com/specialjp/lighter-ts-sub000/internal/nonce"
	"github.com/specialjp/lighter-ts-sub000/internal/safety"
	"github.com/specialjp/lighter-ts-sub000/internal/store"
)

func main() {
	var (
		configPath string
		timeoutSec int
		noColor    bool
	)
	flag.StringVar(&configPath, "config", "config/config.yaml", "config path (.yaml or .toml)")
	flag.IntVar(&timeoutSec, "timeout-sec", 120, "total timeout seconds")
	flag.BoolVar(&noColor, "no-color", false, "disable coloured output")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	name, args := flag.Arg(0), flag.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		fatal(fmt.Sprintf("unknown command %q", name))
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	logger, logCloser, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		fatal(err.Error())
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	out := newPrinter(os.Stdout, !noColor)
	var a *app
	if cmd.needsClient {
		a, err = buildApp(ctx, cfg, logger)
		if err != nil {
			fatal(err.Error())
		}
	} else {
		a = &app{cfg: cfg, logger: logger}
	}
	detail, err := cmd.run(ctx, a, args)
	a.close()
	if err != nil {
		out.fail(name, err)
		os.Exit(1)
	}
	out.pass(name, detail)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: lighterctl [-config path] <command> [flags]")
	fmt.Fprintln(os.Stderr, "commands:")
	for _, name := range commandNames() {
		fmt.Fprintf(os.Stderr, "  %-11s %s\n", name, commands[name].help)
	}
	flag.PrintDefaults()
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, strings.TrimSpace(msg))
	os.Exit(1)
}

// app holds everything a command needs. close releases it in reverse order
// of acquisition.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	client  *client.Client
	venue   *lighter.Client
	journal *store.Journal
	alerts  *alert.Manager
	closers []func()
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	a.alerts = buildAlertManager(cfg, logger)
	if a.alerts != nil {
		a.onClose(func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.alerts.Close(closeCtx); err != nil {
				logger.Warn("close alert manager failed", "event", "alert_close_failed", "err", err)
			}
		})
	}

	takeover := cfg.State.LockTakeover == nil || *cfg.State.LockTakeover
	lock, err := store.AcquireKeyLock(cfg.State.Dir, cfg.Signer.AccountIndex, uint8(cfg.Signer.APIKeyIndex), store.LockOptions{
		Takeover:   takeover,
		StaleAfter: time.Duration(cfg.State.LockStaleSec) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	a.onClose(func() {
		if err := lock.Release(); err != nil {
			logger.Warn("release key lock failed", "event", "key_lock_release_failed", "err", err)
		}
	})

	if cfg.State.Journal {
		a.journal, err = store.OpenJournal(journalPath(cfg), logger)
		if err != nil {
			return nil, err
		}
		a.onClose(func() { _ = a.journal.Close() })
	}

	wsURL := ""
	if cfg.Venue.UseWebsocket {
		wsURL = cfg.Venue.WSBaseURL
	}
	a.venue = lighter.NewClientWithOptions(lighter.Options{
		RestBaseURL:    cfg.Venue.RestBaseURL,
		WSBaseURL:      wsURL,
		HTTPTimeoutSec: cfg.Venue.HTTPTimeoutSec,
		WSKeepaliveSec: cfg.Venue.WSKeepaliveSec,
		Logger:         logger,
	})
	a.venue.SetAlerter(a.alerts.Alerter())
	a.onClose(func() { _ = a.venue.Close() })

	var nonces nonce.Provider = nonce.Direct{Source: a.venue}
	if cfg.Nonce.Cache {
		opts := cfg.NonceCacheOptions()
		opts.Logger = logger
		nonces = nonce.NewCache(nonce.SequentialFetcher{Source: a.venue}, opts)
	}

	var breaker *safety.Breaker
	if cfg.CircuitBreaker.Enabled {
		breaker = safety.NewBreaker(safety.BreakerOptions{
			Enabled:           true,
			MaxFailures:       cfg.CircuitBreaker.MaxFailures,
			Cooldown:          time.Duration(cfg.CircuitBreaker.CooldownSec) * time.Second,
			HalfOpenSuccesses: cfg.CircuitBreaker.ProbePasses,
			Logger:            logger,
		})
	}

	opts := client.Options{
		Venue:         a.venue,
		Nonces:        nonces,
		Breaker:       breaker,
		Alerter:       a.alerts.Alerter(),
		Logger:        logger,
		CloseSlippage: mo.Some(cfg.Orders.CloseSlippage.InexactFloat64()),
	}
	if a.journal != nil {
		opts.Journal = a.journal
	}
	a.client, err = client.New(cfg.SignerConfig(), opts)
	if err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func (a *app) onClose(fn func()) { a.closers = append(a.closers, fn) }

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func journalPath(cfg config.Config) string {
	return fmt.Sprintf("%s/journal-%d-%d.db", strings.TrimRight(cfg.State.Dir, "/"), cfg.Signer.AccountIndex, cfg.Signer.APIKeyIndex)
}

func buildAlertManager(cfg config.Config, logger *slog.Logger) *alert.Manager {
	tg := cfg.Observability.Telegram
	if !tg.Enabled {
		return nil
	}
	notifier := alert.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBaseURL, time.Duration(tg.TimeoutSec)*time.Second)
	if notifier == nil {
		return nil
	}
	return alert.NewManagerWithOptions(alert.Identity{
		Network:      string(cfg.Network),
		AccountIndex: cfg.Signer.AccountIndex,
		APIKeyIndex:  uint8(cfg.Signer.APIKeyIndex),
	}, notifier, alert.ManagerOptions{
		DropReportInterval: time.Duration(cfg.Observability.AlertDropReportSec) * time.Second,
		Logger:             logger,
	})
}

type printer struct {
	w  io.Writer
	au aurora.Aurora
}

func newPrinter(w io.Writer, colour bool) printer {
	return printer{w: w, au: aurora.NewAurora(colour)}
}

func (p printer) pass(name, detail string) {
	fmt.Fprintf(p.w, "[%s] %s", p.au.Bold(p.au.Green("PASS")), name)
	if detail != "" {
		fmt.Fprintf(p.w, " - %s", detail)
	}
	fmt.Fprintln(p.w)
}

func (p printer) fail(name string, err error) {
	fmt.Fprintf(p.w, "[%s] %s (%s) - %v\n", p.au.Bold(p.au.Red("FAIL")), name, p.au.Yellow(errKind(err)), err)
}

func errKind(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	return core.Kind(err)
}
