// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/mlnoga/sensornoise/internal/config"
	"github.com/mlnoga/sensornoise/internal/log"
	"github.com/mlnoga/sensornoise/internal/pipeline"
	"github.com/mlnoga/sensornoise/internal/rest"
	"github.com/mlnoga/sensornoise/internal/simulate"
	"github.com/mlnoga/sensornoise/internal/store"
	"gopkg.in/yaml.v3"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var configFile = flag.String("config", "sensornoise.yaml", "load configuration from `file`. Flags override its values")
var logFile = flag.String("log", "", "save log output to `file`")
var debugLog = flag.Bool("debug", false, "enable debug logging")
var out = flag.String("out", "", "save characterization or simulation results as JSON to `file`")

var root = flag.String("root", "", "dataset root directory with one folder per category and sensitivity")
var darkPrefix = flag.String("darkPrefix", "", "folder name prefix for dark captures, e.g. dark for dark0, dark1, ...")
var whitePrefix = flag.String("whitePrefix", "", "folder name prefix for illuminated captures, e.g. gain for gain0, gain1, ...")
var sensitivities = flag.String("sens", "", "comma-separated sensitivity settings, e.g. 0,1,3,9,14,18")
var numImages = flag.Int("images", 0, "number of frames loaded per folder")
var height = flag.Int("height", 0, "frame height in pixels")
var width = flag.Int("width", 0, "frame width in pixels")
var cfa = flag.String("cfa", "", "color filter array type, one of RGGB, GRBG, GBRG, BGGR")
var format = flag.String("format", "", "raw sample format, uint8 or uint16")

var threshold = flag.Float64("threshold", 0, "exclude pixels with mean at or above this value from the variance-mean fit")
var ignoreUnsampled = flag.Bool("ignoreUnsampled", false, "exclude positions the CFA does not sample from the variance-mean fit")
var perChannel = flag.Bool("perChannel", false, "also compute SNR curves per color channel")

var reportDir = flag.String("report", "", "write HTML, heatmap and CSV reports to `dir`")
var skipPixel = flag.Int("skip", 0, "use every n-th pixel in scatter charts")
var tiff = flag.Bool("tiff", false, "also export simulated captures as TIFF")
var cacheDir = flag.String("cache", "", "cache statistic maps in `dir`")
var db = flag.String("db", "", "store results in sqlite database `file`")

var simImages = flag.Int("simImages", 0, "number of simulated images per sensitivity")
var fullWell = flag.Float64("fullWell", 0, "full well capacity in photons")
var seed = flag.Uint64("seed", 0, "random seed for simulation, 0=random")
var photons = flag.String("photons", "", "comma-separated photon counts per channel of the uniform test image")
var simOut = flag.String("simOut", "", "write simulated captures as raw dataset to `dir`")
var params = flag.String("params", "", "load simulation parameters from YAML `file`")
var runID = flag.String("run", "", "simulate with the parameters of the stored run with this `id`")

var maxThreads = flag.Int("threads", 0, "maximum number of concurrent workers, 0=one per CPU")
var memoryPercent = flag.Int("memory", 0, "percentage of physical memory to use, default from configuration")
var limit = flag.Int("limit", 20, "number of runs to list")

var addr = flag.String("addr", "", "listen on this address when serving the REST API, e.g. :8080")
var chroot = flag.String("chroot", "", "chroot to `dir` before serving")
var setuid = flag.Int("setuid", -1, "change user id before serving, -1=keep")

func main() {
	debug.SetGCPercent(10)
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(os.Stdout, `Sensornoise Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (characterize|simulate|config|runs|serve|legal|version|help) [args]

Commands:
  characterize  Fit gain, read noise and SNR of a dataset of dark and illuminated captures
  simulate      Simulate noisy captures from fitted or given noise parameters
  config        Show the effective configuration, or save it to the file given as argument
  runs          List stored runs, or show the run with the id given as argument
  serve         Serve the REST API
  legal         Show license and attribution information
  version       Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := log.Init(*logFile, *debugLog); err != nil {
		fmt.Fprintf(os.Stderr, "Unable to open logfile '%s': %s\n", *logFile, err.Error())
		os.Exit(-1)
	}
	defer log.Sync()

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal("Could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("Could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Error loading configuration: %s", err.Error())
	}
	if err := applyFlags(cfg); err != nil {
		log.Fatalf("Error in flags: %s", err.Error())
	}
	if cfg.Processing.LogFile != *logFile || cfg.Processing.Debug != *debugLog {
		if err := log.Init(cfg.Processing.LogFile, cfg.Processing.Debug); err != nil {
			log.Fatalf("Unable to open logfile '%s': %s", cfg.Processing.LogFile, err.Error())
		}
	}

	logWriter := log.Writer()
	defer logWriter.Flush()

	switch args[0] {
	case "characterize":
		err = cmdCharacterize(cfg, logWriter)

	case "simulate":
		err = cmdSimulate(cfg, logWriter)

	case "config":
		err = cmdConfig(cfg, args[1:])

	case "runs":
		err = cmdRuns(cfg, args[1:])

	case "serve":
		err = cmdServe(cfg)

	case "legal":
		fmt.Fprint(os.Stdout, legal)

	case "version":
		fmt.Fprintf(os.Stdout, "Version %s\n", version)
		return

	case "help", "?":
		flag.Usage()
		return

	default:
		fmt.Fprintf(os.Stdout, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	log.Printf("Done after %v", time.Since(start))

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			log.Fatal("Could not create memory profile: ", err)
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.Lookup("allocs").WriteTo(f, 0); err != nil {
			log.Fatal("Could not write allocation profile: ", err)
		}
	}

	if err != nil {
		logWriter.Flush()
		log.Errorf("Error: %s", err.Error())
		log.Sync()
		os.Exit(-1)
	}
}

// Overrides configuration values with the flags given on the command line
func applyFlags(cfg *config.Config) error {
	var errs []error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "root":
			cfg.Dataset.Root = *root
		case "darkPrefix":
			cfg.Dataset.DarkPrefix = *darkPrefix
		case "whitePrefix":
			cfg.Dataset.WhitePrefix = *whitePrefix
		case "sens":
			s, err := parseInts(*sensitivities)
			if err != nil {
				errs = append(errs, fmt.Errorf("-sens: %w", err))
			}
			cfg.Dataset.Sensitivities = s
		case "images":
			cfg.Dataset.NumImages = *numImages
		case "height":
			cfg.Dataset.Height = *height
		case "width":
			cfg.Dataset.Width = *width
		case "cfa":
			cfg.Dataset.CFA = *cfa
		case "format":
			cfg.Dataset.Format = *format
		case "threshold":
			cfg.Fit.Threshold = *threshold
		case "ignoreUnsampled":
			cfg.Fit.IgnoreUnsampled = *ignoreUnsampled
		case "perChannel":
			cfg.SNR.PerChannel = *perChannel
		case "report":
			cfg.Report.Dir = *reportDir
		case "skip":
			cfg.Report.SkipPixel = *skipPixel
		case "tiff":
			cfg.Report.TIFF = *tiff
		case "cache":
			cfg.Cache.Dir = *cacheDir
		case "db":
			cfg.Store.Path = *db
		case "simImages":
			cfg.Simulate.NumImages = *simImages
		case "fullWell":
			cfg.Simulate.FullWell = *fullWell
		case "seed":
			cfg.Simulate.Seed = *seed
		case "photons":
			p, err := parseInts(*photons)
			if err != nil {
				errs = append(errs, fmt.Errorf("-photons: %w", err))
			}
			cfg.Simulate.Photons = make([]uint32, len(p))
			for i, v := range p {
				if v < 0 {
					errs = append(errs, fmt.Errorf("-photons: negative count %d", v))
				}
				cfg.Simulate.Photons[i] = uint32(v)
			}
		case "simOut":
			cfg.Simulate.OutputDir = *simOut
		case "threads":
			cfg.Processing.MaxThreads = *maxThreads
		case "memory":
			cfg.Processing.MemoryPercent = *memoryPercent
		case "log":
			cfg.Processing.LogFile = *logFile
		case "debug":
			cfg.Processing.Debug = *debugLog
		case "addr":
			cfg.Server.Address = *addr
		}
	})
	return errors.Join(errs...)
}

// Parses a comma-separated list of integers
func parseInts(s string) ([]int, error) {
	var res []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, nil
}

func newContext(cfg *config.Config, logWriter *log.LineWriter) *pipeline.Context {
	c := pipeline.NewContext(logWriter, cfg.Processing.MemoryPercent, cfg.Processing.MaxThreads)
	c.PrintSystemInfo()
	return c
}

// Writes a result as indented JSON to the -out file, if given
func writeOut(v any) error {
	if *out == "" {
		return nil
	}
	m, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(*out, m, 0644)
}

func cmdCharacterize(cfg *config.Config, logWriter *log.LineWriter) error {
	ch, err := pipeline.Characterize(context.Background(), newContext(cfg, logWriter), cfg)
	if err != nil {
		return err
	}
	for _, d := range ch.Dark {
		if d.Cached {
			continue
		}
		fmt.Fprintf(logWriter, "Dark sensitivity %2d: black level %.2f sigma %.3f spatial noise %.3f regions %v\n",
			d.Sensitivity, d.BlackLevel, d.DarkSigma, d.SpatialNoise, d.RegionLevels)
	}
	fmt.Fprintf(logWriter, "Run %s\n", ch.ID)
	return writeOut(ch)
}

// Resolves the simulation parameters from the -params file or the stored -run
func simulationParameters(cfg *config.Config) (*simulate.Parameters, error) {
	switch {
	case *params != "" && *runID != "":
		return nil, errors.New("give either -params or -run")
	case *params != "":
		return pipeline.LoadParameters(*params)
	case *runID != "":
		if cfg.Store.Path == "" {
			return nil, errors.New("-run needs a database, see -db")
		}
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		defer st.Close()
		run, err := st.GetRun(context.Background(), *runID)
		if err != nil {
			return nil, err
		}
		return pipeline.ParametersFromFit(run.Gain, run.ReadNoise, cfg.Simulate.FullWell)
	}
	return nil, errors.New("missing simulation parameters, see -params and -run")
}

func cmdSimulate(cfg *config.Config, logWriter *log.LineWriter) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p, err := simulationParameters(cfg)
	if err != nil {
		return err
	}
	res, err := pipeline.Simulate(newContext(cfg, logWriter), cfg, p, nil)
	if err != nil {
		return err
	}
	return writeOut(res)
}

func cmdConfig(cfg *config.Config, args []string) error {
	if len(args) > 0 {
		if err := config.SaveConfig(cfg, args[0]); err != nil {
			return err
		}
		log.Printf("Saved configuration to %s", args[0])
		return cfg.Validate()
	}
	m, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	os.Stdout.Write(m)
	return cfg.Validate()
}

func cmdRuns(cfg *config.Config, args []string) error {
	if cfg.Store.Path == "" {
		return errors.New("no database configured, see -db")
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	if len(args) > 0 {
		run, err := st.GetRun(context.Background(), args[0])
		if err != nil {
			return err
		}
		m, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s\n", m)
		return nil
	}
	runs, err := st.ListRuns(context.Background(), *limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Fprintf(os.Stdout, "%s  %s  %-20s %s threshold %g sensitivities %v\n",
			r.ID, r.Created.Local().Format(time.RFC3339), r.Dataset, r.CFA, r.Threshold, r.Sensitivities)
	}
	return nil
}

func cmdServe(cfg *config.Config) error {
	var st *store.Store
	if cfg.Store.Path != "" {
		var err error
		if st, err = store.Open(cfg.Store.Path); err != nil {
			return err
		}
		defer st.Close()
	}
	if err := rest.MakeSandbox(*chroot, *setuid); err != nil {
		return err
	}
	return rest.NewServer(cfg, st).Serve()
}
