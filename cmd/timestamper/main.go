package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/jaralab/timestamper/internal/config"
	"github.com/jaralab/timestamper/internal/debug"
	"github.com/jaralab/timestamper/internal/export"
	"github.com/jaralab/timestamper/internal/hw/device"
	"github.com/jaralab/timestamper/internal/timing"
	"github.com/jaralab/timestamper/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start control server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	rateHz := flag.Float64("rate_hz", 0, "override trigger rate in Hz (0 = use config)")
	maxTriggers := flag.Int("max_triggers", -1, "override pulse budget; 0 = unlimited, -1 = use config")
	label := flag.String("label", "", "override subject/session label")
	mock := flag.Bool("mock", false, "force mock device even if config selects real hardware")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Validate CLI overrides (rate 0 and max_triggers -1 mean "use config")
	if err := validateOverrides(*rateHz, *maxTriggers); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, *rateHz, *maxTriggers, *label, *mock)

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Mock device", cfg.Device.Mock)
	debug.Value("Trigger pin", cfg.Device.TriggerPin)
	debug.Value("Input pins", cfg.Device.InputPins)
	debug.Value("Trigger rate (Hz)", cfg.Trigger.RateHz)
	debug.Value("Pulse budget", cfg.Trigger.MaxTriggers)

	// Initialize device
	dev, err := device.New(cfg.Device.Mock, cfg.Device.MockNoise)
	if err != nil {
		log.Fatalf("init device failed: %v", err)
	}

	// Create the session (fixes the start epoch, seeds the input state)
	sess, err := timing.NewSession(dev, timing.Config{
		TriggerPin:  cfg.Device.TriggerPin,
		InputPins:   cfg.Device.InputPins,
		InputNames:  cfg.Device.InputNames,
		RateHz:      cfg.Trigger.RateHz,
		MaxTriggers: cfg.Trigger.MaxTriggers,
		Label:       cfg.Session.Label,
	})
	if err != nil {
		_ = dev.Close()
		log.Fatalf("init session failed: %v", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Printf("closing session failed: %v", err)
		}
	}()

	ctrl := &sessionController{sess: sess, outputDir: cfg.Session.OutputDir}

	if port := webPort.port(); port > 0 {
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

		formDefaults := web.FormConfig{
			RateHz:      cfg.Trigger.RateHz,
			MaxTriggers: cfg.Trigger.MaxTriggers,
			InputNames:  cfg.Device.InputNames,
			Label:       cfg.Session.Label,
		}
		srv := web.NewServer(fmt.Sprintf(":%d", port), broadcaster, ctrl, formDefaults)
		if err := srv.Run(ctx); err != nil {
			log.Fatalf("control server: %v", err)
		}
		return
	}

	// Headless: record until interrupted or the pulse budget stops us,
	// then save whatever was collected.
	if err := sess.Start(); err != nil {
		log.Fatalf("start failed: %v", err)
	}

	select {
	case <-ctx.Done():
		sess.Stop()
	case <-sess.Done():
	}

	if sess.State() == timing.StateError {
		log.Printf("session ended with device error: %v (partial data saved)", sess.Err())
	}

	path, err := ctrl.Save("")
	if err != nil {
		log.Fatalf("save failed: %v", err)
	}
	debug.Section("Session Complete")
	debug.Value("Output", path)
}

// sessionController adapts the session and export layer to the web
// Controller interface; also used for the headless save.
type sessionController struct {
	sess      *timing.Session
	outputDir string
}

func (c *sessionController) Start(rateHz float64, maxTriggers *int) error {
	if rateHz > 0 {
		if err := c.sess.SetRate(rateHz); err != nil {
			return err
		}
	}
	if maxTriggers != nil {
		if err := c.sess.SetMaxTriggers(*maxTriggers); err != nil {
			return err
		}
	}
	return c.sess.Start()
}

func (c *sessionController) Stop() {
	c.sess.Stop()
}

func (c *sessionController) Status() web.Status {
	counts := c.sess.Counts()
	st := web.Status{
		State:          c.sess.State().String(),
		SessionID:      c.sess.ID().String(),
		Label:          c.sess.Label(),
		StartTime:      c.sess.StartTime().Format(time.RFC3339Nano),
		TriggerRising:  counts.TriggerRising,
		TriggerFalling: counts.TriggerFalling,
		Inputs:         make([]web.InputStatus, len(counts.Inputs)),
	}
	for i, in := range counts.Inputs {
		st.Inputs[i] = web.InputStatus{Name: in.Name, Rising: in.Rising, Falling: in.Falling}
	}
	if err := c.sess.Err(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

func (c *sessionController) Save(filename string) (string, error) {
	bundle := export.FromSnapshot(c.sess.Snapshot())
	// Client-supplied names are reduced to their base so a path like
	// ../../x.json cannot write outside the output directory.
	filename = filepath.Base(filename)
	if filename == "." || filename == ".." || filename == string(filepath.Separator) {
		filename = ""
	}
	if filename == "" {
		filename = export.FileName(c.sess.Label(), c.sess.StartTime(), c.sess.ShortID())
	}
	path := filepath.Join(c.outputDir, filename)
	if err := export.Save(path, bundle); err != nil {
		return "", err
	}
	return path, nil
}

// validateOverrides checks that CLI overrides are within valid ranges.
// rate 0 and maxTriggers -1 are ignored (they mean "use config").
func validateOverrides(rateHz float64, maxTriggers int) error {
	if rateHz != 0 {
		if math.IsNaN(rateHz) || math.IsInf(rateHz, 0) || rateHz <= 0 || rateHz > 500 {
			return fmt.Errorf("rate_hz must be between 0 and 500, got %g", rateHz)
		}
	}
	if maxTriggers < -1 {
		return fmt.Errorf("max_triggers must be >= 0 (or -1 for config default), got %d", maxTriggers)
	}
	return nil
}

// applyOverrides mutates cfg with CLI overrides. Sentinel values
// (rate 0, maxTriggers -1, empty label) leave the config untouched.
func applyOverrides(cfg *config.Config, rateHz float64, maxTriggers int, label string, mock bool) {
	if rateHz > 0 {
		cfg.Trigger.RateHz = rateHz
	}
	if maxTriggers >= 0 {
		cfg.Trigger.MaxTriggers = maxTriggers
	}
	if label != "" {
		cfg.Session.Label = label
	}
	if mock {
		cfg.Device.Mock = true
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
