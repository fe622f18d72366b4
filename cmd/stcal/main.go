// Copyright (C) 2021 The stcal-go authors
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
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/tapastro/stcal/internal/ramp"
	"github.com/tapastro/stcal/internal/render"
	"github.com/tapastro/stcal/internal/rest"
	"github.com/tapastro/stcal/internal/sim"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var port   = flag.Int64("port", 8080, "port for serving HTTP API")
var chroot = flag.String("chroot", "", "directory to chroot and chdir to when serving HTTP. must be run as root")
var setuid = flag.Int64("setuid", -1, "user id number to setuid to when serving HTTP. must be run as root")

var jpg   = flag.String("jpg", "", "save 8bit grayscale preview of the slope image as JPEG to `file`")
var color = flag.String("color", "", "save false-color preview of the slope image as JPEG to `file`")
var tif   = flag.String("tif", "", "save 16bit grayscale preview of the slope image as TIFF to `file`")
var log   = flag.String("log", "%auto", "save log output to `file`. `%auto` derives the name from the job file")
var gamma = flag.Float64("gamma", 1.0, "gamma for preview output, 1: linear")

var maxCores = flag.String("maxCores", "none", "row-band parallelism, one of none, quarter, half, all")
var saveOpt  = flag.Bool("saveOpt", false, "compute optional per-segment diagnostics")

var rej4 = flag.Float64("rej4", 5.5, "jump sigma rejection threshold for ramps with 4+ usable differences")
var rej3 = flag.Float64("rej3", 5.5, "jump sigma rejection threshold for ramps with 3 usable differences")
var rej2 = flag.Float64("rej2", 5.0, "jump sigma rejection threshold for ramps with 2 usable differences")

var flagNeighbors = flag.Bool("flagNeighbors", true, "flag the 4 orthogonal neighbors of marginal jumps")
var minNeighbor   = flag.Float64("minNeighbor", 10, "lower ratio bound for neighbor flagging, strict")
var maxNeighbor   = flag.Float64("maxNeighbor", 1000, "upper ratio bound for neighbor flagging, strict")

var trials    = flag.Int64("trials", 100000, "number of ramps for the simulate command")
var flux      = flag.Float64("flux", 1000, "simulated flux in e-/s")
var readNoise = flag.Float64("readNoise", 5, "simulated CDS read noise in electrons")
var nGroups   = flag.Int64("nGroups", 6, "simulated groups per integration")
var groupTime = flag.Float64("groupTime", 3, "simulated group time in seconds")
var seed      = flag.Uint64("seed", 1, "random seed for the simulate command")

func main() {
	var logWriter io.Writer = os.Stdout
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `stcal ramp processing: jump detection and slope fitting for
non-destructive detector readouts.

Usage: %s [-flag value] (fit|simulate|serve|version) (job.json)

Commands:
  fit      Run jump detection and ramp fitting on a JSON job file
  simulate Fit synthetic ramps with known flux and report the calibration
  serve    Serve the processing API via HTTP
  version  Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	// Initialize logging to file in addition to stdout, if selected
	if *log == "%auto" {
		if len(args) >= 2 {
			*log = strings.TrimSuffix(args[1], filepath.Ext(args[1])) + ".log"
		} else {
			*log = ""
		}
	}
	if *log != "" {
		logFile, err := os.Create(*log)
		if err != nil {
			panic(fmt.Sprintf("Unable to open log file %s\n", *log))
		}
		defer logFile.Close()
		logWriter = io.MultiWriter(logWriter, logFile)
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Fprintf(logWriter, "Could not create CPU profile: %s\n", err)
			os.Exit(-1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(logWriter, "Could not start CPU profile: %s\n", err)
			os.Exit(-1)
		}
		defer pprof.StopCPUProfile()
	}

	opts := optionsFromFlags()
	var err error
	switch args[0] {
	case "fit":
		if len(args) < 2 {
			fmt.Fprintf(logWriter, "fit needs a JSON job file argument\n")
			os.Exit(-1)
		}
		err = runFit(args[1], opts, logWriter)

	case "simulate":
		p := sim.Params{
			NTrials:   int(*trials),
			Flux:      float32(*flux),
			ReadNoise: float32(*readNoise),
			NGroups:   int(*nGroups),
			GroupTime: float32(*groupTime),
			Seed:      *seed,
		}
		_, err = sim.Run(p, opts, logWriter)

	case "serve":
		rest.MakeSandbox(*chroot, int(*setuid))
		rest.Serve(*port)

	case "version":
		fmt.Fprintf(logWriter, "stcal version %s\n", version)

	default:
		flag.Usage()
		os.Exit(-1)
	}
	if err != nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		os.Exit(-1)
	}

	// Write memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Fprintf(logWriter, "Could not create memory profile: %s\n", err)
			os.Exit(-1)
		}
		defer f.Close()
		if err := pprof.WriteHeapProfile(f); err != nil {
			fmt.Fprintf(logWriter, "Could not write memory profile: %s\n", err)
			os.Exit(-1)
		}
	}

	fmt.Fprintf(logWriter, "Done after %v\n", time.Since(start))
}

func optionsFromFlags() *ramp.Options {
	opts := ramp.DefaultOptions()
	opts.MaxCores = *maxCores
	opts.SaveOptional = *saveOpt
	opts.Thresholds.Rej4 = float32(*rej4)
	opts.Thresholds.Rej3 = float32(*rej3)
	opts.Thresholds.Rej2 = float32(*rej2)
	opts.Neighbors.Enabled = *flagNeighbors
	opts.Neighbors.MinRatio = float32(*minNeighbor)
	opts.Neighbors.MaxRatio = float32(*maxNeighbor)
	return &opts
}

// Load a JSON job, run the pipeline and write any requested previews
func runFit(fileName string, opts *ramp.Options, logWriter io.Writer) error {
	buf, err := ioutil.ReadFile(fileName)
	if err != nil {
		return err
	}
	var job rest.Job
	if err := json.Unmarshal(buf, &job); err != nil {
		return err
	}
	job.Options = *opts

	if job.Simulate != nil {
		return rest.RunJob(&job, logWriter)
	}
	if job.Cube == nil {
		return fmt.Errorf("job file %s carries no cube", fileName)
	}

	fmt.Fprintf(logWriter, "Processing %dx%dx%dx%d cube from %s\n",
		job.Cube.NInts, job.Cube.NGroups, job.Cube.NRows, job.Cube.NCols, fileName)
	img, integ, opt, err := ramp.Process(job.Cube, opts, logWriter)
	if err != nil {
		return err
	}
	if integ != nil {
		fmt.Fprintf(logWriter, "Integration products: %d integrations\n", integ.NInts)
	}
	if opt != nil {
		fmt.Fprintf(logWriter, "Optional products: %d segment plane(s), %d cosmic ray plane(s)\n",
			opt.MaxSeg, opt.MaxCR)
	}

	min, max := render.Bounds(img.Data)
	if *jpg != "" {
		fmt.Fprintf(logWriter, "Writing %dx%d slope preview to %s\n", img.NCols, img.NRows, *jpg)
		if err := render.WriteMonoJPGToFile(*jpg, img.Data, img.NCols, img.NRows, min, max, float32(*gamma), 95); err != nil {
			return err
		}
	}
	if *color != "" {
		fmt.Fprintf(logWriter, "Writing %dx%d false-color slope preview to %s\n", img.NCols, img.NRows, *color)
		if err := render.WriteFalseColorJPGToFile(*color, img.Data, img.NCols, img.NRows, min, max, float32(*gamma), 95); err != nil {
			return err
		}
	}
	if *tif != "" {
		fmt.Fprintf(logWriter, "Writing %dx%d 16bit slope preview to %s\n", img.NCols, img.NRows, *tif)
		if err := render.WriteTIFF16ToFile(*tif, img.Data, img.NCols, img.NRows, min, max); err != nil {
			return err
		}
	}
	return nil
}
