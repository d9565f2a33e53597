package entities

import (
	"interview-orchestrator/constant"
)

// AvatarState is the tagged avatar job state. The zero value is pending.
// Values are only built through the constructors below, so a completed state
// always carries a URL and only a failed state carries a message.
type AvatarState struct {
	status  constant.AvatarStatus
	ref     string
	url     string
	message string
}

func AvatarPending() AvatarState {
	return AvatarState{status: constant.AvatarStatusPending}
}

func AvatarProcessing(ref string) AvatarState {
	return AvatarState{status: constant.AvatarStatusProcessing, ref: ref}
}

// AvatarCompleted needs a URL. Without one the result is a failed state.
func AvatarCompleted(ref, url string) AvatarState {
	if url == "" {
		return AvatarFailed("avatar completed without a video url")
	}
	return AvatarState{status: constant.AvatarStatusCompleted, ref: ref, url: url}
}

func AvatarFailed(message string) AvatarState {
	if message == "" {
		message = "avatar generation failed"
	}
	return AvatarState{status: constant.AvatarStatusError, message: message}
}

func (s AvatarState) Status() constant.AvatarStatus {
	if s.status == "" {
		return constant.AvatarStatusPending
	}
	return s.status
}

func (s AvatarState) ExternalRef() string { return s.ref }
func (s AvatarState) URL() string         { return s.url }
func (s AvatarState) Message() string     { return s.message }

func (s AvatarState) Terminal() bool {
	return s.status == constant.AvatarStatusCompleted || s.status == constant.AvatarStatusError
}

// StoredObject is where an uploaded recording landed.
type StoredObject struct {
	URL string
	Key string
}

// RecordingState is the tagged recording pipeline state.
type RecordingState struct {
	status     constant.RecordingStatus
	object     StoredObject
	transcript *string
	message    string
}

func RecordingPending() RecordingState {
	return RecordingState{status: constant.RecordingStatusPending}
}

func RecordingUploading() RecordingState {
	return RecordingState{status: constant.RecordingStatusUploading}
}

func RecordingProcessing(obj StoredObject) RecordingState {
	return RecordingState{status: constant.RecordingStatusProcessing, object: obj}
}

// RecordingCompleted accepts a nil transcript: transcription is optional output.
func RecordingCompleted(obj StoredObject, transcript *string) RecordingState {
	return RecordingState{status: constant.RecordingStatusCompleted, object: obj, transcript: transcript}
}

func RecordingFailed(message string) RecordingState {
	if message == "" {
		message = "recording processing failed"
	}
	return RecordingState{status: constant.RecordingStatusFailed, message: message}
}

func (s RecordingState) Status() constant.RecordingStatus {
	if s.status == "" {
		return constant.RecordingStatusPending
	}
	return s.status
}

func (s RecordingState) Object() StoredObject { return s.object }
func (s RecordingState) Transcript() *string  { return s.transcript }
func (s RecordingState) Message() string      { return s.message }

func (s RecordingState) Terminal() bool {
	return s.status == constant.RecordingStatusCompleted || s.status == constant.RecordingStatusFailed
}
