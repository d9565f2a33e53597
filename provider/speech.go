package provider

import (
	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"context"
	"fmt"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// maxInlineAudio is the largest payload Cloud Speech accepts as inline content.
const maxInlineAudio = 10 << 20

var languageCodes = map[string]string{
	"en": "en-US",
	"es": "es-ES",
	"fr": "fr-FR",
	"de": "de-DE",
	"it": "it-IT",
	"pt": "pt-BR",
	"nl": "nl-NL",
	"ja": "ja-JP",
	"ko": "ko-KR",
	"zh": "zh-CN",
}

// SupportedLanguage reports whether lang is one of the transcription languages.
func SupportedLanguage(lang string) bool {
	_, ok := languageCodes[strings.ToLower(strings.TrimSpace(lang))]
	return ok
}

// NormalizeLanguage maps an unsupported or empty language to fallback.
func NormalizeLanguage(lang, fallback string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if SupportedLanguage(lang) {
		return lang
	}
	return fallback
}

type SpeechConfig struct {
	Credentials string
	Model       string
}

type SpeechTranscriber struct {
	client *speech.Client
	http   *http.Client
	model  string
}

func NewSpeechTranscriber(ctx context.Context, cfg SpeechConfig) (*SpeechTranscriber, error) {
	client, err := speech.NewClient(ctx, ClientOptions(cfg.Credentials)...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return &SpeechTranscriber{client: client, http: &http.Client{}, model: cfg.Model}, nil
}

func (s *SpeechTranscriber) Close() error {
	return s.client.Close()
}

func (s *SpeechTranscriber) Transcribe(ctx context.Context, mediaURL, language string) (Transcript, error) {
	const op = "speech.long_running_recognize"
	lang := NormalizeLanguage(language, "en")

	audio := &speechpb.RecognitionAudio{}
	contentType := ""
	if strings.HasPrefix(mediaURL, "gs://") {
		audio.AudioSource = &speechpb.RecognitionAudio_Uri{Uri: mediaURL}
	} else {
		content, ct, err := s.download(ctx, mediaURL)
		if err != nil {
			return Transcript{}, err
		}
		contentType = ct
		audio.AudioSource = &speechpb.RecognitionAudio_Content{Content: content}
	}

	enc := InferEncoding(contentType, mediaURL)
	if enc == speechpb.RecognitionConfig_ENCODING_UNSPECIFIED {
		return Transcript{}, NewError(KindUnsupported, op, "unsupported media encoding", nil)
	}

	req := &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   enc,
			LanguageCode:               languageCodes[lang],
			Model:                      s.model,
			EnableAutomaticPunctuation: true,
		},
		Audio: audio,
	}

	operation, err := s.client.LongRunningRecognize(ctx, req)
	if err != nil {
		return Transcript{}, speechError(op, err)
	}
	resp, err := operation.Wait(ctx)
	if err != nil {
		return Transcript{}, speechError(op, err)
	}
	return parseRecognition(resp, lang), nil
}

func (s *SpeechTranscriber) download(ctx context.Context, mediaURL string) ([]byte, string, error) {
	const op = "speech.fetch_media"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", NewError(KindUnsupported, op, "invalid media url", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, "", NewError(KindTranscriptionUnavailable, op, "fetch media", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, "", NewError(KindTranscriptionUnavailable, op, fmt.Sprintf("fetch media: status %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 300 {
		return nil, "", NewError(KindUnsupported, op, fmt.Sprintf("fetch media: status %d", resp.StatusCode), nil)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxInlineAudio+1))
	if err != nil {
		return nil, "", NewError(KindTranscriptionUnavailable, op, "read media", err)
	}
	if len(content) > maxInlineAudio {
		return nil, "", NewError(KindUnsupported, op, "media too large for inline recognition", nil)
	}
	return content, resp.Header.Get("Content-Type"), nil
}

// InferEncoding picks the Cloud Speech encoding from a content type or the
// extension of the media URL path.
func InferEncoding(contentType, mediaURL string) speechpb.RecognitionConfig_AudioEncoding {
	m := strings.ToLower(strings.TrimSpace(contentType))
	ext := ""
	if u, err := url.Parse(mediaURL); err == nil {
		ext = strings.ToLower(path.Ext(u.Path))
	}

	switch {
	case strings.Contains(m, "webm") || ext == ".webm":
		return speechpb.RecognitionConfig_WEBM_OPUS
	case strings.Contains(m, "ogg") || ext == ".ogg" || ext == ".opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	case strings.Contains(m, "mp3") || strings.Contains(m, "mpeg") || ext == ".mp3":
		return speechpb.RecognitionConfig_MP3
	case strings.Contains(m, "flac") || ext == ".flac":
		return speechpb.RecognitionConfig_FLAC
	case strings.Contains(m, "wav") || ext == ".wav":
		return speechpb.RecognitionConfig_LINEAR16
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

func speechError(op string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Internal, codes.Aborted:
		return NewError(KindTranscriptionUnavailable, op, "speech service unavailable", err)
	case codes.InvalidArgument, codes.FailedPrecondition, codes.Unimplemented:
		return NewError(KindUnsupported, op, "media not accepted by speech service", err)
	}
	return NewError(KindTranscriptionUnavailable, op, "speech request failed", err)
}

func parseRecognition(resp *speechpb.LongRunningRecognizeResponse, lang string) Transcript {
	out := Transcript{Language: lang}
	if resp == nil {
		return out
	}

	var full strings.Builder
	var prevEnd time.Duration
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 || strings.TrimSpace(alts[0].GetTranscript()) == "" {
			continue
		}
		text := strings.TrimSpace(alts[0].GetTranscript())
		if full.Len() > 0 {
			full.WriteString(" ")
		}
		full.WriteString(text)

		end := r.GetResultEndTime().AsDuration()
		out.Segments = append(out.Segments, Segment{
			Text:       text,
			Start:      prevEnd,
			End:        end,
			Confidence: alts[0].GetConfidence(),
		})
		prevEnd = end
	}
	out.Text = full.String()
	return out
}

// DisabledTranscriber rejects every request, leaving recordings without a
// transcript.
type DisabledTranscriber struct{}

func (DisabledTranscriber) Transcribe(context.Context, string, string) (Transcript, error) {
	return Transcript{}, NewError(KindUnsupported, "transcribe", "transcription disabled", nil)
}
