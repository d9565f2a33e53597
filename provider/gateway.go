package provider

import (
	"context"
	"errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"interview-orchestrator/entities"
	"time"
)

type Timeouts struct {
	Synthesize time.Duration
	Poll       time.Duration
	Upload     time.Duration
	Transcribe time.Duration
	Delete     time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Synthesize: 30 * time.Second,
		Poll:       10 * time.Second,
		Upload:     60 * time.Second,
		Transcribe: 5 * time.Minute,
		Delete:     10 * time.Second,
	}
}

// Gateway implements every capability by delegating to a concrete client.
// It is built once at startup and injected into the controllers.
type Gateway struct {
	avatar      AvatarSynthesizer
	store       ObjectStore
	transcriber Transcriber
	timeouts    Timeouts
	tracer      trace.Tracer
}

func NewGateway(avatar AvatarSynthesizer, store ObjectStore, transcriber Transcriber, timeouts Timeouts) *Gateway {
	if transcriber == nil {
		transcriber = DisabledTranscriber{}
	}
	return &Gateway{
		avatar:      avatar,
		store:       store,
		transcriber: transcriber,
		timeouts:    timeouts,
		tracer:      otel.Tracer("interview-orchestrator/provider"),
	}
}

var (
	_ AvatarSynthesizer = (*Gateway)(nil)
	_ ObjectStore       = (*Gateway)(nil)
	_ Transcriber       = (*Gateway)(nil)
)

func (g *Gateway) SynthesizeAvatar(ctx context.Context, req AvatarRequest) (string, error) {
	var ref string
	err := g.call(ctx, "synthesize_avatar", g.timeouts.Synthesize, KindProvider, func(ctx context.Context) error {
		var err error
		ref, err = g.avatar.SynthesizeAvatar(ctx, req)
		return err
	}, attribute.String("voice_id", req.VoiceID))
	return ref, err
}

func (g *Gateway) PollAvatarStatus(ctx context.Context, ref string) (AvatarStatus, error) {
	var status AvatarStatus
	err := g.call(ctx, "poll_avatar_status", g.timeouts.Poll, KindProvider, func(ctx context.Context) error {
		var err error
		status, err = g.avatar.PollAvatarStatus(ctx, ref)
		return err
	}, attribute.String("external_ref", ref))
	return status, err
}

func (g *Gateway) StoreObject(ctx context.Context, obj Object) (entities.StoredObject, error) {
	var stored entities.StoredObject
	err := g.call(ctx, "store_object", g.timeouts.Upload, KindStorageUnavailable, func(ctx context.Context) error {
		var err error
		stored, err = g.store.StoreObject(ctx, obj)
		return err
	}, attribute.String("key_hint", obj.KeyHint), attribute.Int64("size", obj.Size))
	return stored, err
}

func (g *Gateway) DeleteObject(ctx context.Context, key string) error {
	return g.call(ctx, "delete_object", g.timeouts.Delete, KindStorageUnavailable, func(ctx context.Context) error {
		return g.store.DeleteObject(ctx, key)
	}, attribute.String("key", key))
}

func (g *Gateway) Transcribe(ctx context.Context, mediaURL, language string) (Transcript, error) {
	var transcript Transcript
	err := g.call(ctx, "transcribe", g.timeouts.Transcribe, KindTranscriptionUnavailable, func(ctx context.Context) error {
		var err error
		transcript, err = g.transcriber.Transcribe(ctx, mediaURL, language)
		return err
	}, attribute.String("language", language))
	return transcript, err
}

// call runs fn under its own timeout. Errors that are not already provider
// errors, and timeouts of any kind, surface as the capability's transient kind.
func (g *Gateway) call(ctx context.Context, op string, timeout time.Duration, transient Kind, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := g.tracer.Start(ctx, "provider."+op, trace.WithAttributes(attrs...))
	defer span.End()

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(callCtx)
	elapsed := time.Since(start)

	if err != nil {
		var perr *Error
		switch {
		case isTimeout(err) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
			err = NewError(transient, op, "timed out after "+timeout.String(), err)
		case !errors.As(err, &perr):
			err = NewError(transient, op, err.Error(), err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error_kind", KindOf(err).String()))
	}

	event := zerolog.Ctx(ctx).Debug().Str("op", op).Dur("elapsed", elapsed)
	if err != nil {
		event = event.Err(err).Str("error_kind", KindOf(err).String())
	}
	event.Msg("provider call")
	return err
}
