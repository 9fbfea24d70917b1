package docker

import (
	"errors"
	"fmt"
)

// Sentinel errors for daemon failures the orchestrator reacts to. The SDK's
// own errors are string-matched into these so callers can use errors.Is.
var (
	ErrConnectionFailed = errors.New("docker connection failed")
	ErrTimeout          = errors.New("operation timed out")

	ErrContainerNotFound       = errors.New("container not found")
	ErrContainerAlreadyExists  = errors.New("container already exists")
	ErrContainerNotRunning     = errors.New("container is not running")
	ErrContainerAlreadyRunning = errors.New("container is already running")
	ErrPortAlreadyAllocated    = errors.New("port is already allocated")
	ErrExecFailed              = errors.New("container exec failed")

	ErrNetworkNotFound      = errors.New("network not found")
	ErrNetworkAlreadyExists = errors.New("network already exists")
	ErrNetworkInUse         = errors.New("network has active endpoints")

	ErrVolumeNotFound = errors.New("volume not found")
	ErrVolumeInUse    = errors.New("volume is in use")

	ErrImageNotFound    = errors.New("image not found")
	ErrImagePullFailed  = errors.New("image pull failed")
	ErrImageBuildFailed = errors.New("image build failed")
)

// DockerError carries the operation and entity a daemon call failed on,
// wrapping a sentinel for errors.Is matching.
type DockerError struct {
	Op      string // SDK operation
	Entity  string // container, network, volume, image
	ID      string // entity name or id, when known
	Message string
	Err     error
}

func (e *DockerError) Error() string {
	switch {
	case e.ID != "":
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	case e.Entity != "":
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *DockerError) Unwrap() error { return e.Err }

func NewDockerError(op, entity, id, message string, err error) *DockerError {
	return &DockerError{Op: op, Entity: entity, ID: id, Message: message, Err: err}
}
