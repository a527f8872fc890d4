// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/usertest/lib/runerr"
)

const (
	defaultImageRepo = "usertest-sandbox"

	workspaceMountPath = "/workspace"
	artifactsMountPath = "/artifacts"
)

// DockerOptions configures the docker backend.
type DockerOptions struct {
	// Binary is the docker CLI path. Defaults to "docker" on PATH.
	Binary string

	// CommandTimeout bounds each docker CLI call (version probe,
	// inspect, run, rm). The image build gets 10x this budget. Zero
	// means no deadline.
	CommandTimeout time.Duration

	Logger *slog.Logger
}

// NewDocker returns a container-backed sandbox Backend.
func NewDocker(options DockerOptions) Backend {
	if options.Binary == "" {
		options.Binary = "docker"
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &dockerBackend{options: options}
}

type dockerBackend struct {
	options DockerOptions
}

var containerNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

func (b *dockerBackend) Start(ctx context.Context, workspaceDir, artifactsDir string, spec Spec) (Instance, error) {
	logger := b.options.Logger

	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifacts dir: %w", err)
	}

	// Daemon reachability first: every later failure mode is more
	// confusing than "docker is not running".
	if _, err := b.run(ctx, "version"); err != nil {
		return nil, err
	}

	contextDir, dockerfile, err := resolveBuildInputs(spec)
	if err != nil {
		return nil, err
	}

	contentHash, err := ImageContentHash(contextDir, dockerfile)
	if err != nil {
		return nil, runerr.Wrap(runerr.CategorySandboxBuildFailed, err)
	}
	imageRepo := spec.ImageRepo
	if imageRepo == "" {
		imageRepo = defaultImageRepo
	}
	imageTag := fmt.Sprintf("%s:%s", imageRepo, contentHash[:12])

	if spec.RebuildImage || !b.imageExists(ctx, imageTag) {
		buildLog := filepath.Join(artifactsDir, "docker_build.log")
		if err := b.buildImage(ctx, contextDir, dockerfile, imageTag, buildLog); err != nil {
			return nil, err
		}
		logger.Info("sandbox image built", "tag", imageTag, "log", buildLog)
	} else {
		logger.Debug("sandbox image cached", "tag", imageTag)
	}

	containerName := sanitizeContainerName("usertest-" + uuid.NewString()[:12])

	mounts := []Mount{
		{HostPath: workspaceDir, ContainerPath: workspaceMountPath},
		{HostPath: artifactsDir, ContainerPath: artifactsMountPath},
	}
	mounts = append(mounts, spec.ExtraMounts...)

	runArgs := []string{"run", "-d", "--name", containerName}
	runArgs = append(runArgs, envArgs(spec.EnvAllowlist, spec.EnvOverrides)...)
	runArgs = append(runArgs, resourceArgs(spec.Resources)...)
	if spec.Network == NetworkNone {
		runArgs = append(runArgs, "--network", "none")
	}
	for _, mount := range mounts {
		bindSpec := fmt.Sprintf("type=bind,source=%s,target=%s", mount.HostPath, mount.ContainerPath)
		if mount.ReadOnly {
			bindSpec += ",readonly"
		}
		runArgs = append(runArgs, "--mount", bindSpec)
	}
	// The container idles; all work happens through exec.
	runArgs = append(runArgs, imageTag, "sh", "-lc", "sleep infinity")

	instance := &dockerInstance{
		backend:       b,
		containerName: containerName,
		keepContainer: spec.KeepContainer,
		prefix:        []string{b.options.Binary, "exec", "-i", "-w", workspaceMountPath, containerName},
	}

	if _, err := b.run(ctx, runArgs...); err != nil {
		// The daemon may have created the container before failing;
		// tear it down rather than leak it.
		instance.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	metadata := map[string]any{
		"backend":         "docker",
		"image_tag":       imageTag,
		"image_hash":      contentHash,
		"container_name":  containerName,
		"workspace_mount": workspaceMountPath,
		"artifacts_mount": artifactsMountPath,
		"network_mode":    string(networkOrDefault(spec.Network)),
		"resources":       spec.Resources,
		"mounts":          mounts,
		"env_allowlist":   spec.EnvAllowlist,
	}
	if err := writeJSON(filepath.Join(artifactsDir, "sandbox.json"), metadata); err != nil {
		instance.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	logger.Info("sandbox started", "container", containerName, "image", imageTag)
	return instance, nil
}

func networkOrDefault(mode NetworkMode) NetworkMode {
	if mode == "" {
		return NetworkOpen
	}
	return mode
}

func resolveBuildInputs(spec Spec) (contextDir, dockerfile string, err error) {
	if spec.ImageContextDir == "" {
		return "", "", runerr.New(runerr.CategorySandboxBuildFailed, "docker sandbox requires an image context directory")
	}
	contextDir, err = filepath.Abs(spec.ImageContextDir)
	if err != nil {
		return "", "", err
	}
	if info, statErr := os.Stat(contextDir); statErr != nil || !info.IsDir() {
		return "", "", runerr.Newf(runerr.CategorySandboxBuildFailed, "missing image context directory %s", contextDir)
	}

	dockerfile = spec.Dockerfile
	if dockerfile == "" {
		dockerfile = filepath.Join(contextDir, "Dockerfile")
	} else if !filepath.IsAbs(dockerfile) {
		dockerfile = filepath.Join(contextDir, dockerfile)
	}
	if info, statErr := os.Stat(dockerfile); statErr != nil || info.IsDir() {
		return "", "", runerr.Newf(runerr.CategorySandboxBuildFailed, "missing Dockerfile %s", dockerfile)
	}
	return contextDir, dockerfile, nil
}

// run executes a docker CLI command with the configured per-call
// deadline and returns stdout. Errors are classified: unreachable
// binary/daemon → sandbox_unavailable, deadline → sandbox_timeout.
func (b *dockerBackend) run(ctx context.Context, args ...string) (string, error) {
	if b.options.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.options.CommandTimeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, b.options.Binary, args...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	err := command.Run()
	if err == nil {
		return stdout.String(), nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", runerr.Newf(runerr.CategorySandboxTimeout,
			"docker %s timed out after %s", args[0], b.options.CommandTimeout).
			WithHint("raise the sandbox command timeout or check the docker daemon")
	}
	if errors.Is(err, exec.ErrNotFound) {
		return "", runerr.New(runerr.CategorySandboxUnavailable,
			"docker CLI not found").
			WithHint("install docker and ensure it is on PATH")
	}

	message := bytes.TrimSpace(stderr.Bytes())
	if len(message) == 0 {
		message = bytes.TrimSpace(stdout.Bytes())
	}
	if args[0] == "version" {
		return "", runerr.Newf(runerr.CategorySandboxUnavailable,
			"docker daemon unreachable: %s", message).
			WithHint("ensure the docker daemon is running")
	}
	return "", runerr.Newf(runerr.CategorySandboxUnavailable,
		"docker %s failed: %s", args[0], message)
}

func (b *dockerBackend) imageExists(ctx context.Context, tag string) bool {
	_, err := b.run(ctx, "image", "inspect", tag)
	return err == nil
}

// buildImage runs "docker build" streaming combined output to a log
// file so long builds are inspectable while they run and after they
// fail.
func (b *dockerBackend) buildImage(ctx context.Context, contextDir, dockerfile, tag, logPath string) error {
	log, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("creating build log: %w", err)
	}
	defer log.Close()

	args := []string{"build", "--progress=plain", "-t", tag, "-f", dockerfile, "."}
	fmt.Fprintf(log, "$ %s %s\ncwd=%s\n\n", b.options.Binary, strings.Join(args, " "), contextDir)

	buildCtx := ctx
	if b.options.CommandTimeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, 10*b.options.CommandTimeout)
		defer cancel()
	}

	command := exec.CommandContext(buildCtx, b.options.Binary, args...)
	command.Dir = contextDir
	command.Stdout = log
	command.Stderr = log

	if err := command.Run(); err != nil {
		if errors.Is(buildCtx.Err(), context.DeadlineExceeded) {
			return runerr.Newf(runerr.CategorySandboxTimeout, "docker build timed out for %s", tag).
				WithDetail("build_log", logPath)
		}
		return runerr.Newf(runerr.CategorySandboxBuildFailed, "docker build failed for %s", tag).
			WithDetail("build_log", logPath).
			WithHint("inspect docker_build.log in the run directory")
	}
	return nil
}

func envArgs(allowlist []string, overrides map[string]string) []string {
	var args []string
	for _, key := range allowlist {
		if key == "" {
			continue
		}
		if _, overridden := overrides[key]; overridden {
			continue
		}
		value, present := os.LookupEnv(key)
		if !present {
			continue
		}
		args = append(args, "-e", key+"="+value)
	}
	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, "-e", key+"="+overrides[key])
	}
	return args
}

func resourceArgs(resources Resources) []string {
	var args []string
	if resources.CPUs > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(resources.CPUs, 'f', -1, 64))
	}
	if resources.Memory != "" {
		args = append(args, "--memory", resources.Memory)
	}
	if resources.PIDsLimit > 0 {
		args = append(args, "--pids-limit", strconv.Itoa(resources.PIDsLimit))
	}
	return args
}

func sanitizeContainerName(name string) string {
	cleaned := containerNameSanitizer.ReplaceAllString(name, "-")
	cleaned = trimDashes(cleaned)
	if cleaned == "" {
		cleaned = "usertest-sandbox"
	}
	if len(cleaned) > 128 {
		cleaned = cleaned[:128]
	}
	return cleaned
}

func trimDashes(name string) string {
	for len(name) > 0 && (name[0] == '-' || name[0] == '.') {
		name = name[1:]
	}
	for len(name) > 0 && (name[len(name)-1] == '-' || name[len(name)-1] == '.') {
		name = name[:len(name)-1]
	}
	return name
}

func writeJSON(path string, value any) error {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(encoded, '\n'), 0o644)
}

// dockerInstance is a running container-backed sandbox.
type dockerInstance struct {
	backend       *dockerBackend
	containerName string
	keepContainer bool
	prefix        []string

	closeOnce sync.Once
	closeErr  error
}

func (i *dockerInstance) CommandPrefix() []string {
	return append([]string(nil), i.prefix...)
}

// Close removes the container. Idempotent; "docker rm -f" succeeds
// whether or not the container ever fully started.
func (i *dockerInstance) Close(ctx context.Context) error {
	i.closeOnce.Do(func() {
		if i.keepContainer {
			i.backend.options.Logger.Info("container kept for debugging", "container", i.containerName)
			return
		}
		_, err := i.backend.run(ctx, "rm", "-f", i.containerName)
		if err != nil {
			// Cleanup failure is a secondary diagnostic; it must not
			// mask the run's original failure.
			i.backend.options.Logger.Warn("container removal failed",
				"container", i.containerName, "error", err)
			i.closeErr = err
		}
	})
	return i.closeErr
}

// Diagnostics captures container logs and inspect output into dir.
func (i *dockerInstance) Diagnostics(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	logs, logsErr := i.backend.run(ctx, "logs", i.containerName)
	if logsErr == nil {
		if err := os.WriteFile(filepath.Join(dir, "container_logs.txt"), []byte(logs), 0o644); err != nil {
			return err
		}
	}
	inspect, inspectErr := i.backend.run(ctx, "inspect", i.containerName)
	if inspectErr == nil {
		if err := os.WriteFile(filepath.Join(dir, "container_inspect.json"), []byte(inspect), 0o644); err != nil {
			return err
		}
	}
	if logsErr != nil && inspectErr != nil {
		return fmt.Errorf("capturing diagnostics: %w", logsErr)
	}
	return nil
}
