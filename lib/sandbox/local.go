// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
)

// NewLocal returns a Backend that runs commands directly on the host
// against the workspace directory.
func NewLocal() Backend {
	return localBackend{}
}

type localBackend struct{}

func (localBackend) Start(ctx context.Context, workspaceDir, artifactsDir string, spec Spec) (Instance, error) {
	return &localInstance{}, nil
}

type localInstance struct{}

func (*localInstance) CommandPrefix() []string { return nil }

func (*localInstance) Close(ctx context.Context) error { return nil }

func (*localInstance) Diagnostics(ctx context.Context, dir string) error { return nil }
