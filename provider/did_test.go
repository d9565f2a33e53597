package provider_test

import (
	"context"
	"encoding/json"
	"interview-orchestrator/provider"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDIDSynthesizeSendsTalkPayload(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/talks" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("authorization") != "Basic secret" {
			t.Errorf("authorization = %q", r.Header.Get("authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"tlk_123","status":"created"}`))
	}))
	defer srv.Close()

	client := provider.NewDIDClient(provider.DIDConfig{BaseURL: srv.URL, APIKey: "secret"}, srv.Client())
	style := "cheerful"
	ref, err := client.SynthesizeAvatar(context.Background(), provider.AvatarRequest{
		Text: "Hello", VoiceID: "en-US-JennyNeural", VoiceStyle: &style,
	})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if ref != "tlk_123" {
		t.Fatalf("ref = %q", ref)
	}

	if got["source_url"] != provider.DefaultDIDSourceURL {
		t.Errorf("source_url = %v", got["source_url"])
	}
	script := got["script"].(map[string]interface{})
	if script["input"] != "Hello" || script["type"] != "text" {
		t.Errorf("script = %v", script)
	}
	prov := script["provider"].(map[string]interface{})
	if prov["voice_id"] != "en-US-JennyNeural" || prov["type"] != "microsoft" {
		t.Errorf("provider = %v", prov)
	}
	if vc := prov["voice_config"].(map[string]interface{}); vc["style"] != "cheerful" {
		t.Errorf("voice_config = %v", vc)
	}
	cfg := got["config"].(map[string]interface{})
	if cfg["fluent"] != false || cfg["pad_audio"] != "0.0" {
		t.Errorf("config = %v", cfg)
	}
}

func TestDIDSynthesizeErrorKinds(t *testing.T) {
	tests := []struct {
		status int
		want   provider.Kind
	}{
		{http.StatusUnauthorized, provider.KindAuth},
		{http.StatusPaymentRequired, provider.KindQuota},
		{http.StatusBadRequest, provider.KindInvalidInput},
		{http.StatusUnavailableForLegalReasons, provider.KindInvalidInput},
		{http.StatusTooManyRequests, provider.KindProvider},
		{http.StatusBadGateway, provider.KindProvider},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"kind":"Err","description":"nope"}`))
			}))
			defer srv.Close()

			client := provider.NewDIDClient(provider.DIDConfig{BaseURL: srv.URL}, srv.Client())
			_, err := client.SynthesizeAvatar(context.Background(), provider.AvatarRequest{Text: "x", VoiceID: "v"})
			if got := provider.KindOf(err); got != tc.want {
				t.Fatalf("kind = %s, want %s (err %v)", got, tc.want, err)
			}
		})
	}
}

func TestDIDPollStatusMapping(t *testing.T) {
	tests := []struct {
		body    string
		want    provider.RemoteState
		wantURL string
	}{
		{`{"id":"t","status":"created"}`, provider.RemotePending, ""},
		{`{"id":"t","status":"started"}`, provider.RemotePending, ""},
		{`{"id":"t","status":"done","result_url":"https://cdn/t.mp4"}`, provider.RemoteDone, "https://cdn/t.mp4"},
		{`{"id":"t","status":"error","error":{"message":"bad face"}}`, provider.RemoteFailed, ""},
		{`{"id":"t","status":"rejected"}`, provider.RemoteFailed, ""},
	}
	for _, tc := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/talks/t" {
				t.Errorf("path = %s", r.URL.Path)
			}
			_, _ = w.Write([]byte(tc.body))
		}))

		client := provider.NewDIDClient(provider.DIDConfig{BaseURL: srv.URL}, srv.Client())
		status, err := client.PollAvatarStatus(context.Background(), "t")
		srv.Close()
		if err != nil {
			t.Fatalf("poll %s: %v", tc.body, err)
		}
		if status.State != tc.want || status.VideoURL != tc.wantURL {
			t.Errorf("poll %s = %+v", tc.body, status)
		}
		if tc.want == provider.RemoteFailed && status.Message == "" {
			t.Errorf("poll %s: failed status without message", tc.body)
		}
	}
}
