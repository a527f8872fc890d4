// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox abstracts "run a command in an execution context".
//
// The local backend runs commands directly against the workspace
// directory with an empty command prefix. The docker backend builds
// (or reuses) a content-addressed image, starts one long-lived
// container per run with the workspace and artifacts directories bind
// mounted, and routes every subsequent command through "docker exec"
// so each call avoids image-pull and cold-start cost.
//
// Instances own their teardown: Close is idempotent and runs
// unconditionally, even when Start partially failed, so a crashed run
// can never leak a container.
package sandbox

import (
	"context"
)

// NetworkMode selects the sandbox network configuration.
type NetworkMode string

const (
	// NetworkOpen leaves the container on the default network.
	NetworkOpen NetworkMode = "open"
	// NetworkNone isolates the container from all networking. An
	// agent whose CLI must reach a hosted API cannot run under this
	// mode; the preflight check surfaces that conflict before any
	// container is started.
	NetworkNone NetworkMode = "none"
)

// Mount is a bind mount into the container.
type Mount struct {
	HostPath      string `json:"host_path"`
	ContainerPath string `json:"container_path"`
	ReadOnly      bool   `json:"read_only"`
}

// Resources are container-level resource limits, applied at create
// time. Zero values mean "no limit".
type Resources struct {
	CPUs      float64 `json:"cpus,omitempty"`
	Memory    string  `json:"memory,omitempty"`
	PIDsLimit int     `json:"pids_limit,omitempty"`
}

// Spec declares the sandbox an instance should provide.
type Spec struct {
	// ImageContextDir is the docker build context directory. Required
	// for the docker backend, ignored by the local backend.
	ImageContextDir string

	// Dockerfile is the Dockerfile path, relative to the context when
	// not absolute. Defaults to "Dockerfile" inside the context.
	Dockerfile string

	// ImageRepo is the repository part of the image tag. The tag
	// suffix is the content hash of the build context.
	ImageRepo string

	// RebuildImage forces a build even when the tag already exists.
	RebuildImage bool

	Network   NetworkMode
	Resources Resources

	// EnvAllowlist names host environment variables passed through to
	// the container. EnvOverrides are set explicitly and win over the
	// allowlist.
	EnvAllowlist []string
	EnvOverrides map[string]string

	ExtraMounts []Mount

	// KeepContainer leaves the container running after Close, for
	// debugging.
	KeepContainer bool
}

// Instance is a started execution context.
type Instance interface {
	// CommandPrefix returns the argv prefix that routes a command
	// through this sandbox. Empty for the local backend.
	CommandPrefix() []string

	// Close tears the sandbox down. Idempotent; safe to call after a
	// partial start.
	Close(ctx context.Context) error

	// Diagnostics captures backend state (container logs, inspect
	// output) into dir for post-mortem inspection. Best effort.
	Diagnostics(ctx context.Context, dir string) error
}

// Backend starts sandbox instances.
type Backend interface {
	// Start materializes an execution context wrapping workspaceDir.
	// artifactsDir receives backend metadata and build logs.
	Start(ctx context.Context, workspaceDir, artifactsDir string, spec Spec) (Instance, error)
}
