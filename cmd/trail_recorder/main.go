package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"

	AppName string = "trail_recorder"
)

const usage = `Usage: trail_recorder [-config dir] <command> [args]

Commands:
  record [-pace d] [-background] <track.gpx|track.json>
                 record a hike by replaying a track file
  recover        finish a hike left behind by a previous run
  sync [-watch]  upload queued hikes
  status         show the recorder, queue and connectivity state
  trails [-follow]
                 list hikes stored on the server
  login <token>  store the bearer token
  logout         forget the bearer token
  version        print the version
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	flags := flag.NewFlagSet(AppName, flag.ContinueOnError)
	flags.SetOutput(out)
	flags.Usage = func() { fmt.Fprint(out, usage) }
	configDir := flags.String("config", ".", "directory holding "+AppName+".cfg.json and .env")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	args = flags.Args()
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errors.New("no command given")
	}

	cmd, rest := strings.ToLower(args[0]), args[1:]
	switch cmd {
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	case "version":
		fmt.Fprintf(out, "%s %s (built %s)\n", AppName, Version, BuildDate)
		return nil
	}

	a, err := newApp(ctx, *configDir, out)
	if err != nil {
		return err
	}
	defer a.close()

	a.logger.Info("Running command", "command", cmd, "version", Version)

	switch cmd {
	case "record":
		return a.cmdRecord(ctx, rest)
	case "recover":
		return a.cmdRecover(ctx)
	case "sync":
		return a.cmdSync(ctx, rest)
	case "status":
		return a.cmdStatus(ctx)
	case "trails":
		return a.cmdTrails(ctx, rest)
	case "login":
		return a.cmdLogin(ctx, rest)
	case "logout":
		return a.cmdLogout(ctx)
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}
