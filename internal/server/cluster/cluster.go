// Package cluster reports whether the managed cluster can accept logins.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/dmitrijs2005/sessionkeeper/internal/authrpc"
)

// Provider answers the ClusterStatus RPC.
type Provider interface {
	Status(ctx context.Context) (authrpc.ClusterStatus, error)
}

// Static always reports the same state.
type Static struct {
	Ready bool
}

func (s Static) Status(context.Context) (authrpc.ClusterStatus, error) {
	return authrpc.ClusterStatus{IsReady: s.Ready}, nil
}

// StateFile reads the state from a file written by the provisioning
// tooling. The file holds one word: ready, creating or joining. A missing
// file means the cluster has not been set up yet.
type StateFile struct {
	Path string
}

func (f StateFile) Status(context.Context) (authrpc.ClusterStatus, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return authrpc.ClusterStatus{}, nil
		}
		return authrpc.ClusterStatus{}, fmt.Errorf("read cluster state: %w", err)
	}

	switch state := strings.ToLower(strings.TrimSpace(string(b))); state {
	case "ready":
		return authrpc.ClusterStatus{IsReady: true}, nil
	case "creating":
		return authrpc.ClusterStatus{IsCreating: true}, nil
	case "joining":
		return authrpc.ClusterStatus{IsJoining: true}, nil
	case "":
		return authrpc.ClusterStatus{}, nil
	default:
		return authrpc.ClusterStatus{}, fmt.Errorf("unknown cluster state %q", state)
	}
}

// New returns a StateFile provider when path is set, Static otherwise.
func New(ready bool, path string) Provider {
	if path != "" {
		return StateFile{Path: path}
	}
	return Static{Ready: ready}
}
