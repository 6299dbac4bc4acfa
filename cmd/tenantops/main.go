// Command tenantops runs the tenant assistant and the maintenance workflow from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/spf13/pflag"

	"tenantops/pkg/config"
	"tenantops/pkg/logx"
	"tenantops/pkg/version"
)

// errUsage marks a command line mistake; run prints the command help and exits 2.
var errUsage = errors.New("usage error")

func usageErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

// command is one subcommand. Commands with needsApp get a fully wired app.
type command struct {
	summary  string
	needsApp bool
	run      func(ctx context.Context, env *env, args []string) error
}

// env is what a command runs against.
type env struct {
	cfg        *config.Config
	configPath string
	app        *app
	out        io.Writer
	errOut     io.Writer
}

//nolint:gochecknoglobals // command table
var commands = map[string]command{
	"migrate":        {summary: "Create or upgrade the database schema", needsApp: true, run: runMigrate},
	"seed":           {summary: "Load landlords, units, leases, tenants and contractors from a fixtures file", needsApp: true, run: runSeed},
	"chat":           {summary: "Handle one inbound tenant message", needsApp: true, run: runChat},
	"submit":         {summary: "Submit a maintenance request", needsApp: true, run: runSubmit},
	"owner-respond":  {summary: "Record the owner's decision on a workflow", needsApp: true, run: runOwnerRespond},
	"vendor-respond": {summary: "Record a contractor's ETA", needsApp: true, run: runVendorRespond},
	"complete":       {summary: "Mark an in-progress workflow completed", needsApp: true, run: runComplete},
	"status":         {summary: "Show a workflow with its history and messages", needsApp: true, run: runStatus},
	"list":           {summary: "List workflows, newest first", needsApp: true, run: runList},
	"policy":         {summary: "Show or set a landlord's auto-approval policy", needsApp: true, run: runPolicy},
	"serve-metrics":  {summary: "Serve Prometheus metrics over HTTP", needsApp: true, run: runServeMetrics},
	"stats":          {summary: "Summarize activity from a Prometheus server", run: runStats},
	"secrets":        {summary: "Manage the encrypted secrets file", run: runSecrets},
	"version":        {summary: "Print build information", run: runVersion},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run parses global flags, dispatches the subcommand and returns the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var (
		configPath string
		verbose    bool
	)
	flags := pflag.NewFlagSet("tenantops", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.SetInterspersed(false)
	flags.StringVarP(&configPath, "config", "c", "tenantops.yaml", "path to the YAML config file")
	flags.BoolVarP(&verbose, "verbose", "v", false, "dump recent warnings and errors when a command fails")
	flags.Usage = func() { printUsage(stderr, flags) }

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if flags.NArg() == 0 {
		printUsage(stderr, flags)
		return 2
	}

	name, rest := flags.Arg(0), flags.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "❌ Unknown command %q\n\n", name)
		printUsage(stderr, flags)
		return 2
	}

	e := &env{configPath: configPath, out: stdout, errOut: stderr}
	if err := execute(ctx, cmd, e, rest); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "❌ %s failed: %v\n", name, err)
		if verbose {
			dumpRecentLogs(stderr)
		}
		if errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return 0
}

func execute(ctx context.Context, cmd command, e *env, args []string) error {
	if !cmd.needsApp {
		return cmd.run(ctx, e, args)
	}

	cfg, err := config.Load(e.configPath)
	if err != nil {
		return err //nolint:wrapcheck // already describes the config failure
	}
	e.cfg = cfg

	if err := loadSecrets(filepath.Dir(e.configPath), e.errOut); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, e.out)
	if err != nil {
		return err
	}
	defer func() {
		// Shutdown runs on a fresh context so a cancelled command still flushes spans.
		if closeErr := a.Close(context.Background()); closeErr != nil {
			a.logger.Warn("⚠️  Shutdown: %v", closeErr)
		}
	}()
	e.app = a
	return cmd.run(ctx, e, args)
}

func printUsage(w io.Writer, flags *pflag.FlagSet) {
	fmt.Fprintf(w, "tenantops %s: tenant assistant and maintenance workflow\n\n", version.Version)
	fmt.Fprintln(w, "Usage:\n  tenantops [global flags] <command> [flags]")
	fmt.Fprintln(w, "\nCommands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-15s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(w, "\nGlobal flags:")
	fmt.Fprint(w, flags.FlagUsages())
}

func dumpRecentLogs(w io.Writer) {
	entries := logx.RecentEntries(logx.LevelWarn)
	if len(entries) == 0 {
		return
	}
	fmt.Fprintln(w, "\nRecent warnings and errors:")
	for i := range entries {
		fmt.Fprintf(w, "  [%s] [%s] %s: %s\n", entries[i].Timestamp, entries[i].Component, entries[i].Level, entries[i].Message)
	}
}

func runVersion(_ context.Context, e *env, _ []string) error {
	fmt.Fprintf(e.out, "tenantops %s\n", version.Version)
	fmt.Fprintf(e.out, "  commit: %s\n", version.Commit)
	fmt.Fprintf(e.out, "  built:  %s\n", version.Date)
	return nil
}

// newFlagSet builds a subcommand flag set that reports errors instead of exiting.
func newFlagSet(e *env, name, usage string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(e.errOut)
	fs.Usage = func() {
		fmt.Fprintf(e.errOut, "Usage: tenantops %s %s\n\n", name, usage)
		fmt.Fprint(e.errOut, fs.FlagUsages())
	}
	return fs
}

// parseFlags parses args and turns flag errors into usage errors.
func parseFlags(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err //nolint:wrapcheck // sentinel checked by run
		}
		return usageErrorf("%v", err)
	}
	return nil
}

func requireFlag(fs *pflag.FlagSet, name, value string) error {
	if value == "" {
		fs.Usage()
		return usageErrorf("--%s is required", name)
	}
	return nil
}
