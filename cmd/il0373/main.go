package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"il0373/internal/battery"
	"il0373/internal/config"
	"il0373/internal/epd"
	appLog "il0373/internal/log"
	"il0373/internal/web"
)

// flagConfig holds CLI flag values; non-empty ones override the config file.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	renderOnly bool
	dump       bool
	dumpDir    string
	text       string
	image      string
	url        string
}

func main() {
	appLog.Info("il0373 starting", "version", "0.1.0")

	flags := parseFlags()
	if err := run(flags); err != nil {
		appLog.Error("il0373 failed", err)
		os.Exit(1)
	}
	appLog.Info("il0373 exiting")
}

func run(flags flagConfig) error {
	conf, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config %s: %w", flags.configPath, err)
	}
	applyFlags(conf, flags)

	if err := configureLogging(conf, os.Stderr); err != nil {
		return err
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"refresh", conf.RefreshCron,
		"rows", conf.Panel.Rows,
		"cols", conf.Panel.Cols,
		"rotation", conf.Panel.Rotation,
		"sram", conf.SRAM,
		"once", flags.once,
		"render_only", flags.renderOnly,
		"dump", flags.dump,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	var p *panel
	if flags.renderOnly {
		epdCfg, err := conf.PanelConfig()
		if err != nil {
			return err
		}
		p, err = newMemoryPanel(epdCfg)
		if err != nil {
			return err
		}
	} else {
		if err := conf.Validate(); err != nil {
			return err
		}
		p, err = openPanel(conf)
		if err != nil {
			return err
		}
	}
	defer func() {
		if err := p.Close(); err != nil {
			appLog.Error("failed to release panel", err)
		}
	}()

	a := &app{conf: conf, panel: p}
	if conf.Battery != nil && p.hardware {
		addr := uint16(conf.Battery.Addr)
		if addr == 0 {
			addr = battery.DefaultAddr
		}
		gauge, bus, err := battery.Open(conf.Battery.Bus, addr)
		if err != nil {
			return err
		}
		defer bus.Close()
		a.battery = gauge
	}
	if flags.dump {
		a.dumpDir = flags.dumpDir
	}

	if flags.once {
		return a.refresh(ctx)
	}
	return a.loop(ctx)
}

// configureLogging applies the configured level and format. Log lines go
// to w when the format is json.
func configureLogging(conf *config.Config, w io.Writer) error {
	level, err := appLog.ParseLevel(conf.LogLevel)
	if err != nil {
		return err
	}
	switch conf.LogFormat {
	case "", "console":
	case "json":
		appLog.SetOutput(w)
	default:
		return fmt.Errorf("unknown log format %q", conf.LogFormat)
	}
	appLog.SetLevel(level)
	return nil
}

// app owns the panel and serializes refreshes from the scheduler and HTTP.
type app struct {
	conf    *config.Config
	panel   *panel
	srv     *web.Server
	battery battery.Reader
	dumpDir string

	// delay is handed to Reset; nil sleeps.
	delay epd.DelayFunc

	mu sync.Mutex
}

// loop serves the preview, refreshes once and then on the configured
// schedule until ctx is canceled or the HTTP server fails.
func (a *app) loop(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{})), cron.WithLogger(cronLogger{}))
	if _, err := c.AddFunc(a.conf.RefreshCron, func() {
		if err := a.refresh(ctx); err != nil {
			appLog.Error("scheduled refresh failed", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", a.conf.RefreshCron, err)
	}

	srvErr := make(chan error, 1)
	var wg sync.WaitGroup
	if a.conf.Listen != "" {
		a.srv = web.NewServer(a.conf, a.refresh)
		if a.battery != nil {
			a.srv.SetBatteryReader(a.battery)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.srv.Serve(ctx); err != nil {
				srvErr <- err
				cancel()
			}
		}()
	}

	if err := a.refresh(ctx); err != nil {
		appLog.Error("initial refresh failed", err)
	}
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	wg.Wait()

	select {
	case err := <-srvErr:
		return fmt.Errorf("HTTP server: %w", err)
	default:
		return nil
	}
}

// refresh draws the configured content and, with hardware attached, wakes
// the panel, updates it and puts it back into deep sleep. Once Reset has
// succeeded the panel is always put back to sleep, whatever fails after.
func (a *app) refresh(ctx context.Context) (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	p := a.panel
	awake := false
	defer func() {
		if awake {
			if serr := p.display.DeepSleep(); serr != nil {
				err = errors.Join(err, fmt.Errorf("deep sleep: %w", serr))
			}
		}
		if err == nil {
			appLog.Info("panel refreshed", "took", time.Since(start))
		}
	}()
	wake := func() error {
		if err := p.display.Reset(a.delay); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		awake = true
		return nil
	}

	// Reset puts the SRAM into sequential mode, so an SRAM panel wakes
	// before drawing. Host memory panels draw first.
	if p.hardware && p.sram {
		if err := wake(); err != nil {
			return err
		}
	}
	if err := drawContent(ctx, p.surface, a.conf.Content); err != nil {
		return fmt.Errorf("draw: %w", err)
	}
	if p.hardware {
		if !awake {
			if err := wake(); err != nil {
				return err
			}
		}
		if err := p.surface.Update(); err != nil {
			return fmt.Errorf("update: %w", err)
		}
	}

	a.readBattery(ctx)

	if a.srv != nil || a.dumpDir != "" {
		return a.publish(p)
	}
	return nil
}

// publish hands the planes to the preview server and the dump directory.
func (a *app) publish(p *panel) error {
	black, red, err := p.planes()
	if err != nil {
		return fmt.Errorf("read planes: %w", err)
	}
	if a.srv != nil {
		a.srv.SetFrame(web.Frame{Config: p.cfg, Black: black, Red: red})
	}
	if a.dumpDir != "" {
		if err := dumpFrame(a.dumpDir, p.cfg, black, red); err != nil {
			return fmt.Errorf("dump: %w", err)
		}
		appLog.Debug("frame dumped", "dir", a.dumpDir)
	}
	return nil
}

// readBattery logs the gauge reading and hands it to the preview server. A
// failed read never fails the refresh.
func (a *app) readBattery(ctx context.Context) {
	if a.battery == nil {
		return
	}
	st, err := a.battery.Read(ctx)
	if err != nil {
		appLog.Error("battery read failed", err)
		return
	}
	appLog.Info("battery", "percent", st.Percent, "voltage_mv", st.VoltageMv)
	if a.srv != nil {
		a.srv.SetBatteryStatus(st)
	}
}

// cronLogger routes robfig/cron logging into the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}

func applyFlags(conf *config.Config, flags flagConfig) {
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.text != "" {
		conf.Content = config.ContentConfig{Text: flags.text}
	}
	if flags.image != "" {
		conf.Content = config.ContentConfig{Image: flags.image}
	}
	if flags.url != "" {
		conf.Content = config.ContentConfig{URL: flags.url}
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/il0373/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one draw+update cycle and exit")
	flag.BoolVar(&cfg.renderOnly, "render-only", false, "Render only; do not touch display hardware")
	flag.BoolVar(&cfg.dump, "dump", false, "Dump debug artifacts (black.bin, red.bin, preview.png)")
	flag.StringVar(&cfg.dumpDir, "dump-dir", ".", "Directory for --dump artifacts")
	flag.StringVar(&cfg.text, "text", "", "Draw this text instead of the configured content")
	flag.StringVar(&cfg.image, "image", "", "Draw this PNG/JPEG file instead of the configured content")
	flag.StringVar(&cfg.url, "url", "", "Capture and draw this URL instead of the configured content")

	flag.Parse()

	return cfg
}
