package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/timzifer/apsynctl/apsyn420"
	"github.com/timzifer/apsynctl/config"
	"github.com/timzifer/apsynctl/internal/logging"
	"github.com/timzifer/apsynctl/telemetry"
)

const usage = `usage: apsynctl [flags] <command> [args]

commands:
  get <parameter>          read a parameter
  set <parameter> <value>  write a parameter
  idn                      print the instrument identification
  reset                    restore instrument defaults
  extref <hz>              switch to the external reference and wait for lock
  watch <condition>        poll until the condition evaluates to true
`

func main() {
	cfgPath := flag.String("config", "config.yaml", "Path to configuration file")
	configCheck := flag.Bool("config-check", false, "Validate configuration and exit")
	interval := flag.Duration("interval", time.Second, "Poll interval for watch")
	wait := flag.Duration("wait", 0, "Upper bound for extref lock wait (0 waits forever)")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *configCheck {
		fmt.Println("configuration ok")
		return
	}

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()
	log.Logger = logger

	collector := telemetry.Noop()
	if cfg.Telemetry.Enabled {
		prom, err := telemetry.NewPrometheusCollector(nil)
		if err != nil {
			logger.Warn().Err(err).Msg("telemetry disabled")
		} else {
			collector = prom
			if cfg.Telemetry.Listen != "" {
				go serveMetrics(cfg.Telemetry.Listen)
			}
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	inst, err := apsyn420.New(cfg.Instrument, logger, apsyn420.WithCollector(collector))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect instrument")
	}
	defer inst.Close()

	if err := run(ctx, inst, *interval, *wait, flag.Args()); err != nil {
		logger.Fatal().Err(err).Msg("command failed")
	}
}

func run(ctx context.Context, inst *apsyn420.Instrument, interval, wait time.Duration, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("no command given, try -h")
	}
	switch args[0] {
	case "get":
		if len(args) != 2 {
			return fmt.Errorf("get expects exactly one parameter name")
		}
		value, err := inst.Get(args[1])
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	case "set":
		if len(args) != 3 {
			return fmt.Errorf("set expects a parameter name and a value")
		}
		return inst.Set(args[1], args[2])
	case "idn":
		idn, err := inst.Identify()
		if err != nil {
			return err
		}
		fmt.Println(idn)
		return nil
	case "reset":
		return inst.Reset()
	case "extref":
		if len(args) != 2 {
			return fmt.Errorf("extref expects a reference frequency in Hz")
		}
		hz, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("parse reference frequency %q: %w", args[1], err)
		}
		if wait > 0 {
			bounded, cancel := context.WithTimeout(ctx, wait)
			defer cancel()
			ctx = bounded
		}
		return inst.SetExternalReference(ctx, hz)
	case "watch":
		if len(args) != 2 {
			return fmt.Errorf("watch expects a condition expression")
		}
		return inst.WaitFor(ctx, args[1], interval)
	default:
		return fmt.Errorf("unknown command %q, try -h", args[0])
	}
}

func serveMetrics(listen string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(listen, mux); err != nil {
		log.Warn().Err(err).Msg("metrics endpoint stopped")
	}
}
