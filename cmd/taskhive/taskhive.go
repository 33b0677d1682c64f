// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Command taskhive launches and supervises crowd task runs.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/taskhive/taskhive/lib/cmd"
	"github.com/taskhive/taskhive/lib/config"
	"github.com/taskhive/taskhive/lib/operator"
	"github.com/taskhive/taskhive/lib/store"
	boltstore "github.com/taskhive/taskhive/lib/store/bolt"
	pgstore "github.com/taskhive/taskhive/lib/store/pg"
	"github.com/taskhive/taskhive/sdk/go/ctxlog"
)

var handler = cmd.Multi(map[string]cmd.RunFunc{
	"run":                runCommand,
	"register-requester": registerRequesterCommand,
	"version":            cmd.PrintVersion,
	"-version":           cmd.PrintVersion,
	"--version":          cmd.PrintVersion,
})

func main() {
	os.Exit(handler(os.Args[0], os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "", "bolt":
		return boltstore.Open(cfg.Store.Path)
	case "postgres":
		return pgstore.Open(ctx, cfg.Store.DSN)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

// runCommand launches one task run and blocks until it (and any
// other run sharing the process) finishes or the process is
// interrupted. Launch arguments follow a "--" terminator:
//
//	taskhive run --config /etc/taskhive.yml -- \
//	    --blueprint-type static --architect-type local --requester-name alice \
//	    --data-json units.json
func runCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet(prog, pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprintf(stderr, "usage: %s [options] -- [launch arguments]\n\nOptions:\n%s", prog, flags.FlagUsages())
	}
	configPath := flags.String("config", "", "operator config `file`")
	logEvery := flags.Duration("log-running-every", time.Minute, "how often to log still-running runs while waiting")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	logger := ctxlog.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = ctxlog.Context(ctx, logger)

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.WithError(err).Error("error opening store")
		return 1
	}
	defer st.Close()

	op := &operator.Operator{
		Store:                    st,
		Logger:                   logger,
		PollInterval:             cfg.PollInterval.Duration(),
		WorkDir:                  cfg.WorkDir,
		DefaultTaskArgs:          cfg.DefaultTaskArgs,
		AbortOnPostDeployFailure: cfg.AbortOnPostDeployFailure,
	}
	if cfg.ManagementAddr != "" {
		srv := &http.Server{
			Addr:    cfg.ManagementAddr,
			Handler: op.ManagementHandler(cfg.ManagementToken),
		}
		go func() {
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				logger.WithError(err).Error("management server failed")
			}
		}()
		defer srv.Close()
	}

	runID, err := op.ParseAndLaunchRun(ctx, flags.Args(), nil)
	if err != nil {
		logger.WithError(err).Error("launch failed")
		op.Shutdown(context.Background())
		return 1
	}
	fmt.Fprintln(stdout, runID)

	op.WaitForRunsThenShutdown(ctx, *logEvery)
	return 0
}

// registerRequesterCommand creates a requester record in the store.
func registerRequesterCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet(prog, pflag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "", "operator config `file`")
	name := flags.String("name", "", "requester name")
	providerType := flags.String("provider-type", "mock", "crowd provider type for this requester")
	sandbox := flags.Bool("sandbox", false, "register as a sandbox requester")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if *name == "" {
		fmt.Fprintln(stderr, "--name is required")
		return 2
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	logger := logrus.New()
	logger.Out = stderr

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.WithError(err).Error("error opening store")
		return 1
	}
	defer st.Close()

	id, err := st.CreateRequester(ctx, *name, *providerType, *sandbox)
	if err != nil {
		logger.WithError(err).Error("error creating requester")
		return 1
	}
	fmt.Fprintln(stdout, id)
	return 0
}
