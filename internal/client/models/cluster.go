package models

// ClusterStatus is the server-reported readiness of the managed cluster.
type ClusterStatus struct {
	IsReady    bool
	IsCreating bool
	IsJoining  bool
}
