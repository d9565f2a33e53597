// Package provider holds the capability interfaces for the external media
// services together with their concrete clients and the Gateway that wraps
// every call with a timeout, a span and a log line.
package provider

import (
	"context"
	"interview-orchestrator/entities"
	"io"
	"time"
)

type AvatarRequest struct {
	Text       string
	VoiceID    string
	VoiceStyle *string
}

type RemoteState string

const (
	RemotePending RemoteState = "pending"
	RemoteDone    RemoteState = "done"
	RemoteFailed  RemoteState = "failed"
)

type AvatarStatus struct {
	State    RemoteState
	VideoURL string
	Message  string
}

type AvatarSynthesizer interface {
	// SynthesizeAvatar starts an external job and returns its reference.
	SynthesizeAvatar(ctx context.Context, req AvatarRequest) (string, error)
	// PollAvatarStatus is read-only and safe to repeat.
	PollAvatarStatus(ctx context.Context, ref string) (AvatarStatus, error)
}

type Object struct {
	Body        io.Reader
	Size        int64
	KeyHint     string
	ContentType string
}

type ObjectStore interface {
	StoreObject(ctx context.Context, obj Object) (entities.StoredObject, error)
	DeleteObject(ctx context.Context, key string) error
}

type Segment struct {
	Text       string
	Start      time.Duration
	End        time.Duration
	Confidence float32
}

type Transcript struct {
	Text     string
	Language string
	Segments []Segment
}

type Transcriber interface {
	Transcribe(ctx context.Context, mediaURL, language string) (Transcript, error)
}
