/*
 * scsihba - Main process
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	getopt "github.com/pborman/getopt/v2"
	reader "github.com/rcornwell/scsihba/command/reader"
	config "github.com/rcornwell/scsihba/config/configparser"
	"github.com/rcornwell/scsihba/config/settings"
	core "github.com/rcornwell/scsihba/emu/core"
	"github.com/rcornwell/scsihba/emu/metrics"
	"github.com/rcornwell/scsihba/util/debug"
	logger "github.com/rcornwell/scsihba/util/logger"
	"golang.org/x/sync/errgroup"

	_ "github.com/rcornwell/scsihba/config/adapterconfig"
	_ "github.com/rcornwell/scsihba/config/debugconfig"
)

func main() {
	optConfig := getopt.StringLong("config", 'c', "scsihba.cfg", "Configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optDebug := getopt.BoolLong("debug", 'd', "Log debug to console")
	optMetrics := getopt.StringLong("metrics", 'm', "", "Address to serve metrics on")
	optName := getopt.StringLong("name", 'n', "scsi0", "Adapter name for metrics")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file io.Writer
	if *optLogFile != "" {
		f, err := os.Create(*optLogFile)
		if err != nil {
			slog.Error("Unable to create log file: " + err.Error())
			os.Exit(1)
		}
		defer f.Close()
		file = f
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	Logger := slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel, AddSource: false}, optDebug))
	slog.SetDefault(Logger)

	Logger.Info("scsihba Started")
	if _, err := os.Stat(*optConfig); os.IsNotExist(err) {
		Logger.Error("Configuration file " + *optConfig + " can't be found")
		os.Exit(1)
	}

	cfg := settings.Default()
	if err := config.LoadConfigFile(*optConfig, cfg); err != nil {
		Logger.Error(err.Error())
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		Logger.Error("Configuration not valid: " + err.Error())
		os.Exit(1)
	}
	if cfg.Debug != 0 && !debug.Enabled() {
		debug.SetOutput(os.Stderr)
	}

	m := metrics.New(*optName)
	sim, err := core.New(cfg, Logger, m)
	if err != nil {
		Logger.Error(err.Error())
		os.Exit(1)
	}

	// Open the metrics listener first so a bad address stops us here.
	var srv *http.Server
	var ln net.Listener
	if *optMetrics != "" {
		ln, err = net.Listen("tcp", *optMetrics)
		if err != nil {
			Logger.Error("Unable to listen for metrics: " + err.Error())
			os.Exit(1)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		Logger.Info("Serving metrics", "address", ln.Addr().String())
	}

	var g errgroup.Group

	// Start main emulator.
	g.Go(func() error {
		sim.Start()
		return nil
	})

	if srv != nil {
		g.Go(func() error {
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	// Console runs until quit, then everything else is shut down.
	g.Go(func() error {
		reader.ConsoleReader(sim)
		sim.Stop()
		if srv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		Logger.Error(err.Error())
		os.Exit(1)
	}
	Logger.Info("Servers stopped.")
}
