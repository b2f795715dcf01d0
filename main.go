package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/zplc/zplc-core/api"
	"github.com/zplc/zplc-core/config"
	"github.com/zplc/zplc-core/debugchan"
	"github.com/zplc/zplc-core/debugger"
	"github.com/zplc/zplc-core/hal"
	"github.com/zplc/zplc-core/memory"
	"github.com/zplc/zplc-core/scheduler"
	"github.com/zplc/zplc-core/zlog"
)

// Version information, overridable at build time with:
// go build -ldflags "-X main.Version=v1.2.3 -X main.Commit=... -X main.Date=..."
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "compile":
		err = runCompile(args)
	case "upload":
		err = runUpload(args)
	case "devices":
		err = runDevices(args)
	case "run":
		err = runRun(args)
	case "debug":
		err = runDebug(args)
	case "hil":
		err = runHIL(args)
	case "-h", "--help", "help":
		printUsage()
		return
	case "-v", "--version", "version":
		printVersion()
		return
	default:
		fmt.Fprintf(os.Stderr, "zplc: unknown command %q\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "zplc %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`ZPLC %s

Usage: zplc <command> [options] [arguments]

Commands:
  compile  <source>        Compile a ZPLC source program into a container file
  upload   <container>     Upload a container file to a connected controller
  devices                  List controllers reachable from this host
  run      <container>     Run a container file's tasks until interrupted
  debug    <container>     Run with an attached interactive console (TUI)
  hil      <container>     Hardware-in-the-loop run (simulated HAL in this build)

Every command accepts:
  --help       Show command-specific help
  --version    Show version information
  --json       Emit machine-readable JSON instead of text
  --verbose    Emit additional diagnostic output

Run 'zplc <command> --help' for command-specific options.
`, Version)
}

func printVersion() {
	fmt.Printf("zplc %s\n", Version)
	if Commit != "unknown" {
		fmt.Printf("commit: %s\n", Commit)
	}
	if Date != "unknown" {
		fmt.Printf("built: %s\n", Date)
	}
}

// commonFlags is the --help/--version/--json/--verbose quartet every
// subcommand accepts (spec §6: "all six CLI subcommands ... accept
// --help/--version/--json/--verbose").
type commonFlags struct {
	help    bool
	version bool
	json    bool
	verbose bool
}

func newFlagSet(name string) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cf := &commonFlags{}
	fs.BoolVar(&cf.help, "help", false, "show this help message")
	fs.BoolVar(&cf.version, "version", false, "show version information")
	fs.BoolVar(&cf.json, "json", false, "emit machine-readable JSON")
	fs.BoolVar(&cf.verbose, "verbose", false, "emit additional diagnostic output")
	return fs, cf
}

// handleCommon reports whether the caller should return immediately
// (because --help or --version was handled).
func handleCommon(fs *flag.FlagSet, cf *commonFlags) bool {
	if cf.help {
		fmt.Printf("Usage: zplc %s [options] <container file>\n\n", fs.Name())
		fs.PrintDefaults()
		return true
	}
	if cf.version {
		printVersion()
		return true
	}
	return false
}

// externalStub reports that a subcommand is handled outside this
// process (spec §6 requires the subcommand to exist and parse its
// flags; compiling ZPLC source and provisioning real controllers are
// both explicit non-goals of the core, SPEC_FULL.md §4).
func externalStub(name string) error {
	fmt.Fprintf(os.Stderr, "zplc %s: handled by an external collaborator, not this build\n", name)
	os.Exit(1)
	return nil
}

func runCompile(args []string) error {
	fs, cf := newFlagSet("compile")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if handleCommon(fs, cf) {
		return nil
	}
	return externalStub("compile")
}

func runUpload(args []string) error {
	fs, cf := newFlagSet("upload")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if handleCommon(fs, cf) {
		return nil
	}
	return externalStub("upload")
}

func runDevices(args []string) error {
	fs, cf := newFlagSet("devices")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if handleCommon(fs, cf) {
		return nil
	}
	return externalStub("devices")
}

// coreOptions are the flags shared by run/debug/hil: every one of them
// loads a container file against a scheduler built from config.
type coreOptions struct {
	configPath string
}

func addCoreFlags(fs *flag.FlagSet, opt *coreOptions) {
	fs.StringVar(&opt.configPath, "config", "", "path to a TOML config file (default: the platform config path)")
}

func loadConfig(opt coreOptions) (*config.Config, error) {
	if opt.configPath != "" {
		return config.LoadFrom(opt.configPath)
	}
	return config.Load()
}

func buildScheduler(cfg *config.Config, h hal.HAL, debug *debugchan.Channel) (*scheduler.Scheduler, error) {
	plane := memory.New()
	plane.Init()

	limits := scheduler.Limits{
		MinIntervalUS: cfg.Scheduler.MinIntervalUS,
		MaxIntervalUS: cfg.Scheduler.MaxIntervalUS,
		MaxTasks:      cfg.Scheduler.MaxTasks,
		LockTimeoutMS: cfg.Scheduler.LockTimeoutMS,
	}
	ioIn := channelsFromConfig(cfg.IO.InputChannels)
	ioOut := channelsFromConfig(cfg.IO.OutputChannels)

	sched := scheduler.New(plane, h, limits, ioIn, ioOut, debug)
	if err := sched.Init(); err != nil {
		return nil, fmt.Errorf("scheduler init: %w", err)
	}
	if cfg.Debug.Diagnostics {
		sched.EnableDiagnostics(cfg.Debug.HotPCLimit)
	}
	return sched, nil
}

// channelsFromConfig converts the TOML channel-number-string -> offset
// map (spec §9: channel-to-offset assignment is compiler policy, not
// core policy) into the Scheduler's typed IOChannel list. An
// unparseable key is skipped and logged, not fatal: a malformed single
// entry should not prevent every other channel from binding.
func channelsFromConfig(m map[string]uint32) []scheduler.IOChannel {
	out := make([]scheduler.IOChannel, 0, len(m))
	for k, offset := range m {
		ch, err := strconv.Atoi(k)
		if err != nil {
			zlog.Printf("config: skipping invalid IO channel key %q: %v", k, err)
			continue
		}
		out = append(out, scheduler.IOChannel{Channel: ch, Offset: offset})
	}
	return out
}

func readContainer(args []string, fs *flag.FlagSet) ([]byte, error) {
	if fs.NArg() == 0 {
		return nil, fmt.Errorf("usage: zplc %s [options] <container file>", fs.Name())
	}
	return os.ReadFile(fs.Arg(0)) // #nosec G304 -- user-specified container file path
}

// runUntilSignal starts sched and blocks until SIGINT/SIGTERM, then
// shuts the scheduler down gracefully.
func runUntilSignal(sched *scheduler.Scheduler, verbose bool) error {
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	if verbose {
		fmt.Println("\nshutting down...")
	}
	return sched.Shutdown()
}

func runRun(args []string) error {
	fs, cf := newFlagSet("run")
	opt := coreOptions{}
	addCoreFlags(fs, &opt)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if handleCommon(fs, cf) {
		return nil
	}

	cfg, err := loadConfig(opt)
	if err != nil {
		return err
	}
	data, err := readContainer(args, fs)
	if err != nil {
		return err
	}

	mode, err := debugchan.ParseMode(cfg.Debug.Mode)
	if err != nil {
		mode = debugchan.ModeOff
	}
	debug := debugchan.NewChannel(mode)
	defer debug.Close()

	sched, err := buildScheduler(cfg, hal.NewSimHAL(nil), debug)
	if err != nil {
		return err
	}

	n, err := sched.Load(data)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if cf.verbose {
		fmt.Printf("loaded %d task(s)\n", n)
	}

	if cfg.API.Enabled {
		srv := api.NewServer(sched, debug, cfg.API.ListenAddr)
		go func() {
			if err := srv.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "api server: %v\n", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
		if cf.verbose {
			fmt.Printf("api server listening on %s\n", cfg.API.ListenAddr)
		}
	}

	return runUntilSignal(sched, cf.verbose)
}

func runDebug(args []string) error {
	fs, cf := newFlagSet("debug")
	opt := coreOptions{}
	addCoreFlags(fs, &opt)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if handleCommon(fs, cf) {
		return nil
	}

	cfg, err := loadConfig(opt)
	if err != nil {
		return err
	}
	data, err := readContainer(args, fs)
	if err != nil {
		return err
	}

	debug := debugchan.NewChannel(debugchan.ModeSummary)
	defer debug.Close()

	sched, err := buildScheduler(cfg, hal.NewSimHAL(nil), debug)
	if err != nil {
		return err
	}
	if _, err := sched.Load(data); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer func() { _ = sched.Shutdown() }()

	dbg := debugger.New(sched, debug)
	tui := debugger.NewTUI(dbg)
	return tui.Run()
}

func runHIL(args []string) error {
	fs, cf := newFlagSet("hil")
	opt := coreOptions{}
	addCoreFlags(fs, &opt)
	var device string
	fs.StringVar(&device, "device", "", "hardware device path (unused: no real HAL driver is wired in this build)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if handleCommon(fs, cf) {
		return nil
	}

	if device != "" {
		fmt.Fprintf(os.Stderr, "zplc hil: --device %q ignored: this build has no real hardware HAL, falling back to the simulated one\n", device)
	}

	cfg, err := loadConfig(opt)
	if err != nil {
		return err
	}
	data, err := readContainer(args, fs)
	if err != nil {
		return err
	}

	mode, err := debugchan.ParseMode(cfg.Debug.Mode)
	if err != nil {
		mode = debugchan.ModeOff
	}
	debug := debugchan.NewChannel(mode)
	defer debug.Close()

	// Hardware-in-the-loop runs against the HAL interface exactly as
	// "run" does; a real controller would supply a different hal.HAL
	// implementation (GPIO, ADC/DAC, sockets) behind the same
	// interface (spec §6), but no such driver is part of this corpus
	// (see DESIGN.md), so SimHAL stands in.
	sched, err := buildScheduler(cfg, hal.NewSimHAL(nil), debug)
	if err != nil {
		return err
	}
	if _, err := sched.Load(data); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if cf.json {
		fmt.Println(`{"event":"loaded"}`)
	}
	return runUntilSignal(sched, cf.verbose)
}
