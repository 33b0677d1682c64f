// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package local implements an architect that serves the task from an
// HTTP server in the operator's own process. Suitable for sandbox
// runs and development; the task is only reachable while the
// operator is up.
package local

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/taskhive/taskhive/lib/architect"
	"github.com/taskhive/taskhive/lib/store"
	"github.com/taskhive/taskhive/sdk/go/taskhive"
)

// Driver is the registerable driver for the "local" architect type.
var Driver architect.Driver = &localDriver{}

type localDriver struct{}

func (d *localDriver) Options() []taskhive.Option {
	return []taskhive.Option{
		{
			Name: "task-source",
			Type: taskhive.OptionString,
			Help: "Directory with the task frontend to serve; a placeholder page is served if unset",
		},
		{
			Name:    "server-port",
			Type:    taskhive.OptionInt,
			Default: 0,
			Help:    "TCP port to listen on (0 picks a free port)",
		},
		{
			Name:    "server-hostname",
			Type:    taskhive.OptionString,
			Default: "localhost",
			Help:    "Hostname used in the deployed task URL",
		},
	}
}

func (d *localDriver) ValidateArgs(args taskhive.TaskArgs) error {
	if src := args.String("task-source"); src != "" {
		fi, err := os.Stat(src)
		if err != nil {
			return fmt.Errorf("task-source: %w", err)
		}
		if !fi.IsDir() {
			return fmt.Errorf("task-source %s is not a directory", src)
		}
	}
	if port := args.Int("server-port"); port < 0 || port > 65535 {
		return fmt.Errorf("server-port %d out of range", port)
	}
	return nil
}

func (d *localDriver) New(st store.Store, args taskhive.TaskArgs, run taskhive.TaskRun, buildDir string) (architect.Architect, error) {
	return &localArchitect{
		run:      run,
		buildDir: buildDir,
		source:   args.String("task-source"),
		port:     args.Int("server-port"),
		hostname: args.String("server-hostname"),
	}, nil
}

type localArchitect struct {
	run      taskhive.TaskRun
	buildDir string
	source   string
	port     int
	hostname string

	srv          *http.Server
	listener     net.Listener
	deployDir    string
	shutdownOnce sync.Once
	shutdownErr  error
}

const placeholderPage = `<!doctype html>
<title>task</title>
<p>This task run has no frontend bundle configured.</p>
`

// Prepare copies the task source into the build directory, or writes
// a placeholder page if no source was configured.
func (a *localArchitect) Prepare() (string, error) {
	if a.source == "" {
		err := os.WriteFile(filepath.Join(a.buildDir, "index.html"), []byte(placeholderPage), 0644)
		if err != nil {
			return "", err
		}
		return a.buildDir, nil
	}
	err := copyTree(a.source, a.buildDir)
	if err != nil {
		return "", fmt.Errorf("copy task source: %w", err)
	}
	return a.buildDir, nil
}

// Deploy copies the prepared artifact out of the build directory,
// serves it, and returns the task URL once the server answers
// requests. Serving from a separate directory keeps the URL valid
// after Cleanup removes the build directory.
func (a *localArchitect) Deploy() (string, error) {
	deployDir, err := os.MkdirTemp("", "taskhive-serve-")
	if err != nil {
		return "", err
	}
	if err := copyTree(a.buildDir, deployDir); err != nil {
		os.RemoveAll(deployDir)
		return "", fmt.Errorf("stage deploy dir: %w", err)
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.port))
	if err != nil {
		os.RemoveAll(deployDir)
		return "", fmt.Errorf("listen: %w", err)
	}
	a.listener = ln
	a.srv = &http.Server{Handler: http.FileServer(http.Dir(deployDir))}
	go a.srv.Serve(ln)

	port := ln.Addr().(*net.TCPAddr).Port
	url := fmt.Sprintf("http://%s:%d/", a.hostname, port)

	// Don't report success until the server actually answers. A
	// failed deploy cleans up after itself: the caller won't call
	// Shutdown for a run that never got a URL.
	client := retryablehttp.NewClient()
	client.RetryMax = 5
	client.RetryWaitMin = 50 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.Logger = nil
	resp, err := client.Get(url)
	if err != nil {
		ln.Close()
		os.RemoveAll(deployDir)
		return "", fmt.Errorf("deployed server not responding at %s: %w", url, err)
	}
	resp.Body.Close()
	a.deployDir = deployDir
	return url, nil
}

// Cleanup removes the local build directory. The server serves its
// own staged copy, so the deployed URL stays valid.
func (a *localArchitect) Cleanup() error {
	return os.RemoveAll(a.buildDir)
}

// Shutdown stops the server. Safe to call repeatedly and before a
// successful Deploy.
func (a *localArchitect) Shutdown() error {
	a.shutdownOnce.Do(func() {
		if a.deployDir != "" {
			defer os.RemoveAll(a.deployDir)
		}
		if a.srv == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.shutdownErr = a.srv.Shutdown(ctx)
	})
	return a.shutdownErr
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if fi.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode())
		if err != nil {
			return err
		}
		if _, err = io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}
