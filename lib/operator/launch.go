// Copyright (C) The TaskHive Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package operator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"
	"github.com/taskhive/taskhive/lib/architect"
	"github.com/taskhive/taskhive/lib/launcher"
	"github.com/taskhive/taskhive/lib/store"
	"github.com/taskhive/taskhive/sdk/go/taskhive"
)

// ParseAndLaunchRun resolves and validates the given launch
// arguments, creates the run, deploys its infrastructure, registers
// its job, launches its units, and adds it to the live registry. It
// returns the new run ID, or an error with nothing tracked.
//
// Overrides win over parsed argument values. Validation happens
// before any record is created or any server deployed; a failure at
// or before deploy leaves no tracked run.
func (op *Operator) ParseAndLaunchRun(ctx context.Context, argv []string, overrides taskhive.TaskArgs) (string, error) {
	op.Start()

	cfg, err := op.resolveConfig(ctx, argv, overrides)
	if err != nil {
		return "", err
	}
	logger := op.Logger.WithField("BlueprintType", cfg.selectors.BlueprintType)
	if len(cfg.unknownArgs) > 0 {
		logger.WithField("Args", cfg.unknownArgs).Debug("ignoring unrecognized arguments")
	}

	run, err := op.registerRun(ctx, cfg)
	if err != nil {
		return "", err
	}
	logger = logger.WithField("RunID", run.ID)

	arch, taskURL, err := op.deployRun(ctx, logger, cfg, run)
	if err != nil {
		return "", err
	}

	// Synthesized eligibility entries go after any explicitly
	// configured ones: block first, then onboarding-failed. The
	// provider must see the final list, so this happens before
	// resource registration.
	quals := append([]taskhive.Qualification(nil), cfg.args.Qualifications()...)
	if block := cfg.args.String("block-qualification"); block != "" {
		quals = append(quals, taskhive.Qualification{
			Name:       block,
			Comparator: taskhive.QualNotExist,
		})
	}
	if onboarding := cfg.args.String("onboarding-qualification"); onboarding != "" {
		quals = append(quals, taskhive.Qualification{
			Name:       taskhive.OnboardingFailedQual(onboarding),
			Comparator: taskhive.QualNotExist,
		})
	}
	cfg.args["qualifications"] = quals

	prov, err := cfg.providerDriver.New(op.Store)
	if err != nil {
		tryShutdown(logger, arch)
		return "", fmt.Errorf("construct provider: %w", err)
	}
	if err := prov.SetupResourcesForTaskRun(ctx, run, cfg.args, taskURL); err != nil {
		if err := op.postDeployFailure(logger, arch, "provider registration", err); err != nil {
			return "", err
		}
	}

	bp, err := cfg.blueprintDriver.New(run, cfg.args)
	if err != nil {
		tryShutdown(logger, arch)
		return "", fmt.Errorf("construct blueprint: %w", err)
	}
	initData, err := bp.InitializationData()
	if err != nil {
		tryShutdown(logger, arch)
		return "", fmt.Errorf("get initialization data: %w", err)
	}
	data, ok := initData.([]taskhive.InitializationData)
	if !ok {
		tryShutdown(logger, arch)
		return "", UnsupportedInitDataShapeError{Shape: fmt.Sprintf("%T", initData)}
	}

	job := op.supervisor.RegisterJob(run, arch, bp, prov, quals)
	op.supervisor.EnsureSendingLoop()

	lnch := launcher.New(op.Store, run, data)
	if err := lnch.CreateAssignments(ctx); err == nil {
		err = lnch.LaunchUnits(ctx, taskURL)
	}
	if err != nil {
		op.supervisor.ShutdownJob(job)
		tryShutdown(logger, arch)
		return "", fmt.Errorf("launch units: %w", err)
	}

	tracked := op.trackRun(&TrackedRun{
		Run:       run,
		Architect: arch,
		Blueprint: bp,
		Launcher:  lnch,
		Job:       job,
	})
	if !tracked {
		// Operator shutdown began while this launch was in
		// flight; undo rather than leak an untracked run.
		if err := lnch.ExpireUnits(ctx); err != nil {
			logger.WithError(err).Warn("error expiring units")
		}
		op.supervisor.ShutdownJob(job)
		tryShutdown(logger, arch)
		return "", errors.New("operator is shutting down")
	}
	logger.WithField("TaskURL", taskURL).Info("run launched")
	return run.ID, nil
}

// LaunchFromCommandLine is ParseAndLaunchRun for a single
// shell-quoted argument string.
func (op *Operator) LaunchFromCommandLine(ctx context.Context, cmdline string, overrides taskhive.TaskArgs) (string, error) {
	argv, err := shlex.Split(cmdline)
	if err != nil {
		return "", fmt.Errorf("split argument string: %w", err)
	}
	return op.ParseAndLaunchRun(ctx, argv, overrides)
}

// registerRun finds or creates the task record and creates the run
// record. The task name falls back to the blueprint type when no
// --task-name was given, matching how runs have always been grouped.
func (op *Operator) registerRun(ctx context.Context, cfg *resolvedConfig) (taskhive.TaskRun, error) {
	taskName := cfg.args.String("task-name")
	if taskName == "" {
		taskName = cfg.selectors.BlueprintType
		op.Logger.WithField("TaskName", taskName).Warn("no task-name given, using blueprint type as the task name")
	}

	task, err := op.Store.FindTask(ctx, taskName)
	if errors.Is(err, store.ErrNotFound) {
		_, err = op.Store.CreateTask(ctx, taskName, cfg.selectors.BlueprintType)
		if err != nil && !errors.Is(err, store.ErrExists) {
			return taskhive.TaskRun{}, fmt.Errorf("create task: %w", err)
		}
		// ErrExists means a concurrent launch created it
		// between our find and create; either way it exists
		// now.
		task, err = op.Store.FindTask(ctx, taskName)
	}
	if err != nil {
		return taskhive.TaskRun{}, fmt.Errorf("find task: %w", err)
	}

	runID, err := op.Store.CreateRun(ctx, store.CreateRunParams{
		TaskID:        task.ID,
		RequesterID:   cfg.requester.ID,
		ArgString:     shellJoin(cfg.taskArgv),
		ProviderType:  cfg.requester.ProviderType,
		BlueprintType: cfg.selectors.BlueprintType,
		Sandbox:       cfg.requester.Sandbox,
	})
	if err != nil {
		return taskhive.TaskRun{}, fmt.Errorf("create run: %w", err)
	}
	run, err := op.Store.GetRun(ctx, runID)
	if err != nil {
		return taskhive.TaskRun{}, fmt.Errorf("read back run: %w", err)
	}
	return run, nil
}

// deployRun stands up the run's infrastructure: build dir, architect
// prepare + deploy, then unconditional cleanup of local build
// resources. Prepare/deploy failures are fatal; a cleanup failure
// follows the post-deploy policy.
func (op *Operator) deployRun(ctx context.Context, logger logrus.FieldLogger, cfg *resolvedConfig, run taskhive.TaskRun) (architect.Architect, string, error) {
	workDir := op.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	buildDir := filepath.Join(workDir, "taskhive-run-"+run.ID, "build")
	if err := os.MkdirAll(buildDir, 0755); err != nil {
		return nil, "", fmt.Errorf("create build dir: %w", err)
	}

	arch, err := cfg.architectDriver.New(op.Store, cfg.args, run, buildDir)
	if err != nil {
		return nil, "", fmt.Errorf("construct architect: %w", err)
	}
	if _, err := arch.Prepare(); err != nil {
		return nil, "", DeploymentError{Stage: "prepare", Err: err}
	}
	taskURL, err := arch.Deploy()
	if err != nil {
		return nil, "", DeploymentError{Stage: "deploy", Err: err}
	}
	if err := arch.Cleanup(); err != nil {
		if err := op.postDeployFailure(logger, arch, "cleanup", err); err != nil {
			return nil, "", err
		}
	}
	return arch, taskURL, nil
}

// postDeployFailure applies the configured policy to a failure that
// happened after the run was deployed: abort the launch, or log and
// let the run proceed to tracking (the default -- a possibly messy
// running task beats silently losing a deployed one).
func (op *Operator) postDeployFailure(logger logrus.FieldLogger, arch architect.Architect, stage string, err error) error {
	perr := PostDeployError{Stage: stage, Err: err}
	if op.AbortOnPostDeployFailure {
		tryShutdown(logger, arch)
		return perr
	}
	logger.WithError(perr).Warn("continuing despite post-deploy failure")
	return nil
}

func tryShutdown(logger logrus.FieldLogger, arch architect.Architect) {
	if err := arch.Shutdown(); err != nil {
		logger.WithError(err).Warn("error shutting down deployment after failed launch")
	}
}

// shellJoin renders argv as one shell-quoted string, so the exact
// launch arguments can be reproduced from the run record.
func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		if arg != "" && !strings.ContainsAny(arg, " \t\n\"'\\$&|;<>()*?[]#~%{}`!") {
			quoted[i] = arg
			continue
		}
		quoted[i] = `'` + strings.Replace(arg, `'`, `'\''`, -1) + `'`
	}
	return strings.Join(quoted, " ")
}
