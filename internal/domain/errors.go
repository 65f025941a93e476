package domain

import "errors"

var (
	ErrProvision       = errors.New("provisioning failed")
	ErrStepFailed      = errors.New("step failed")
	ErrArtifactMissing = errors.New("artifact not found")
	ErrArtifactExists  = errors.New("artifact already exists")
	ErrNoArtifactFiles = errors.New("no files matched artifact paths")
	ErrCancelled       = errors.New("cancelled")
	ErrRunNotFound     = errors.New("run not found")
)
