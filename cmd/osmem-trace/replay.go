package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/alecthomas/units"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/flswld/osmem/cpu"
	"github.com/flswld/osmem/logger"
	"github.com/flswld/osmem/metrics"
	"github.com/flswld/osmem/osmem"
	"github.com/flswld/osmem/sys"
	"github.com/flswld/osmem/trace"
)

// replayCommand replays every trace file on its own allocator.
type replayCommand struct {
	files   *[]string
	backend *string
	reserve *units.Base2Bytes
	dump    *bool
	check   *bool
	metrics *bool
	debug   *bool
	cpu     *int
}

func (cmd *replayCommand) run(c *kingpin.ParseContext) error {
	level := logger.INFO
	if *cmd.debug {
		level = logger.DEBUG
	}
	logger.InitLogger(&logger.Config{
		AppName:   "osmem-trace",
		Level:     level,
		TrackLine: *cmd.debug,
	})
	defer logger.CloseLogger()

	if *cmd.cpu >= 0 {
		if !cpu.BindCpuCore(*cmd.cpu) {
			logger.Warn("bind cpu core %d failed, replaying unpinned", *cmd.cpu)
		} else {
			defer cpu.UnbindCpuCore()
		}
	}

	var sources []metrics.Source
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()
	for _, f := range *cmd.files {
		a, err := cmd.replayFile(f)
		if a != nil {
			sources = append(sources, a)
			if c, ok := a.OS().(io.Closer); ok {
				closers = append(closers, c)
			}
		}
		if err != nil {
			return err
		}
	}
	if *cmd.metrics {
		err := printMetrics(os.Stdout, sources)
		if err != nil {
			return err
		}
	}
	return nil
}

func (cmd *replayCommand) replayFile(name string) (*osmem.Allocator, error) {
	t, err := trace.LoadFile(name)
	if err != nil {
		return nil, err
	}
	backend, err := sys.Open(*cmd.backend, uint64(*cmd.reserve))
	if err != nil {
		return nil, errors.Wrapf(err, "open %s backend", *cmd.backend)
	}
	a := osmem.New(&osmem.Config{OS: backend, Debug: *cmd.debug, Name: t.Name})
	logger.Info("replay %s: %d ops on %s backend", t.Name, len(t.Ops), *cmd.backend)
	r, err := trace.Replay(a, t)
	if err != nil {
		return a, errors.Wrapf(err, "replay %s", t.Name)
	}

	bold := color.New(color.Bold)
	_, _ = bold.Printf("Trace %s:\n", t.Name)
	r.Summary(os.Stdout)
	if *cmd.dump {
		_, _ = bold.Println("Blocks:")
		a.Dump(os.Stdout)
	}
	if *cmd.check {
		err = a.Blocks().Check()
		if err != nil {
			return a, errors.Wrapf(err, "check %s", t.Name)
		}
		fmt.Printf("check %s: ok, %d blocks\n", t.Name, a.Blocks().Len())
	}
	return a, nil
}

func printMetrics(w io.Writer, sources []metrics.Source) error {
	registry := prometheus.NewRegistry()
	err := registry.Register(metrics.NewCollector(sources...))
	if err != nil {
		return errors.Wrap(err, "register collector")
	}
	families, err := registry.Gather()
	if err != nil {
		return errors.Wrap(err, "gather metrics")
	}
	for _, mf := range families {
		_, err = expfmt.MetricFamilyToText(w, mf)
		if err != nil {
			return errors.Wrap(err, "write metrics")
		}
	}
	return nil
}

func addReplayCommand(app *kingpin.Application) {
	cmd := &replayCommand{}
	replay := app.Command("replay", "Replay allocation traces and print a summary per trace.").Action(cmd.run)
	cmd.backend = replay.Flag("backend", "OS memory backend.").Default(sys.BackendUnix).Enum(sys.BackendUnix, sys.BackendGo)
	cmd.reserve = replay.Flag("reserve", "Address space reserved for the heap segment.").Default("1GB").Bytes()
	cmd.dump = replay.Flag("dump", "Dump the block list after each trace.").Bool()
	cmd.check = replay.Flag("check", "Verify block list invariants after each trace.").Bool()
	cmd.metrics = replay.Flag("metrics", "Print allocator metrics in the Prometheus text format.").Bool()
	cmd.debug = replay.Flag("debug", "Log every allocator call.").Bool()
	cmd.cpu = replay.Flag("cpu", "Pin the replay to this core, -1 disables.").Default("-1").Int()
	cmd.files = replay.Arg("trace", "The trace files to replay.").Required().ExistingFiles()
}
