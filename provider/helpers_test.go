package provider_test

import (
	"cloud.google.com/go/speech/apiv1/speechpb"
	"interview-orchestrator/provider"
	"testing"
	"time"
)

func TestObjectKey(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	tests := map[string]string{
		"recordings/abc/answer.webm": "recordings/abc/20240309_140506_answer.webm",
		"/recordings/abc/../x.mp4":   "recordings/20240309_140506_x.mp4",
		"":                           "20240309_140506_object",
	}
	for hint, want := range tests {
		if got := provider.ObjectKey(hint, now); got != want {
			t.Errorf("ObjectKey(%q) = %q, want %q", hint, got, want)
		}
	}
}

func TestInferEncoding(t *testing.T) {
	tests := []struct {
		contentType string
		url         string
		want        speechpb.RecognitionConfig_AudioEncoding
	}{
		{"video/webm", "", speechpb.RecognitionConfig_WEBM_OPUS},
		{"", "https://minio/rec/a.webm?X-Amz-Signature=1", speechpb.RecognitionConfig_WEBM_OPUS},
		{"audio/mpeg", "", speechpb.RecognitionConfig_MP3},
		{"", "gs://bucket/a.flac", speechpb.RecognitionConfig_FLAC},
		{"audio/wav", "", speechpb.RecognitionConfig_LINEAR16},
		{"video/mp4", "https://minio/a.mp4", speechpb.RecognitionConfig_ENCODING_UNSPECIFIED},
	}
	for _, tc := range tests {
		if got := provider.InferEncoding(tc.contentType, tc.url); got != tc.want {
			t.Errorf("InferEncoding(%q, %q) = %v, want %v", tc.contentType, tc.url, got, tc.want)
		}
	}
}

func TestNormalizeLanguage(t *testing.T) {
	if got := provider.NormalizeLanguage("FR", "en"); got != "fr" {
		t.Errorf("got %q", got)
	}
	if got := provider.NormalizeLanguage("xx", "en"); got != "en" {
		t.Errorf("unsupported language = %q", got)
	}
	if got := provider.NormalizeLanguage("", "en"); got != "en" {
		t.Errorf("empty language = %q", got)
	}
}
