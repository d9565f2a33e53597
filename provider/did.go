package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const (
	DefaultDIDBaseURL   = "https://api.d-id.com"
	DefaultDIDSourceURL = "https://d-id-public-bucket.s3.us-west-2.amazonaws.com/alice.jpg"
)

type DIDConfig struct {
	BaseURL   string
	APIKey    string
	SourceURL string
	Webhook   string
}

// DIDClient talks to the D-ID talks API.
type DIDClient struct {
	cfg    DIDConfig
	client *http.Client
}

func NewDIDClient(cfg DIDConfig, httpClient *http.Client) *DIDClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultDIDBaseURL
	}
	if cfg.SourceURL == "" {
		cfg.SourceURL = DefaultDIDSourceURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &DIDClient{cfg: cfg, client: httpClient}
}

type talkRequest struct {
	SourceURL string     `json:"source_url"`
	Script    talkScript `json:"script"`
	Config    talkConfig `json:"config"`
	Webhook   string     `json:"webhook,omitempty"`
}

type talkScript struct {
	Type      string       `json:"type"`
	Subtitles bool         `json:"subtitles"`
	Provider  talkProvider `json:"provider"`
	Input     string       `json:"input"`
}

type talkProvider struct {
	Type        string       `json:"type"`
	VoiceID     string       `json:"voice_id"`
	VoiceConfig *voiceConfig `json:"voice_config,omitempty"`
}

type voiceConfig struct {
	Style string `json:"style"`
}

type talkConfig struct {
	Fluent   bool   `json:"fluent"`
	PadAudio string `json:"pad_audio"`
}

type talkResponse struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	ResultURL   string     `json:"result_url"`
	Error       *talkError `json:"error"`
	Message     string     `json:"message"`
	Description string     `json:"description"`
}

type talkError struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func (c *DIDClient) SynthesizeAvatar(ctx context.Context, req AvatarRequest) (string, error) {
	const op = "did.create_talk"
	body := talkRequest{
		SourceURL: c.cfg.SourceURL,
		Script: talkScript{
			Type:     "text",
			Provider: talkProvider{Type: "microsoft", VoiceID: req.VoiceID},
			Input:    req.Text,
		},
		Config:  talkConfig{Fluent: false, PadAudio: "0.0"},
		Webhook: c.cfg.Webhook,
	}
	if req.VoiceStyle != nil && *req.VoiceStyle != "" {
		body.Script.Provider.VoiceConfig = &voiceConfig{Style: *req.VoiceStyle}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", NewError(KindInvalidInput, op, "encode request", err)
	}

	var out talkResponse
	if err := c.do(ctx, op, http.MethodPost, "/talks", bytes.NewReader(payload), &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", NewError(KindProvider, op, "response carried no talk id", nil)
	}
	return out.ID, nil
}

func (c *DIDClient) PollAvatarStatus(ctx context.Context, ref string) (AvatarStatus, error) {
	const op = "did.get_talk"
	var out talkResponse
	if err := c.do(ctx, op, http.MethodGet, "/talks/"+ref, nil, &out); err != nil {
		return AvatarStatus{}, err
	}

	switch out.Status {
	case "done":
		if out.ResultURL == "" {
			return AvatarStatus{State: RemoteFailed, Message: "talk finished without a result url"}, nil
		}
		return AvatarStatus{State: RemoteDone, VideoURL: out.ResultURL}, nil
	case "error", "rejected":
		msg := "Unknown error"
		if out.Error != nil {
			msg = firstNonEmpty(out.Error.Message, out.Error.Description, msg)
		}
		return AvatarStatus{State: RemoteFailed, Message: "Video generation failed: " + msg}, nil
	default:
		return AvatarStatus{State: RemotePending}, nil
	}
}

func (c *DIDClient) do(ctx context.Context, op, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return NewError(KindInvalidInput, op, "build request", err)
	}
	req.Header.Set("accept", "application/json")
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("authorization", "Basic "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return NewError(KindProvider, op, "request timed out", err)
		}
		return NewError(KindProvider, op, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return NewError(KindProvider, op, "read response", err)
	}

	if resp.StatusCode >= 300 {
		return statusError(op, resp.StatusCode, errorDetail(resp.StatusCode, raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return NewError(KindProvider, op, "decode response", err)
	}
	return nil
}

func statusError(op string, code int, detail string) error {
	cause := fmt.Errorf("http status %d", code)
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return NewError(KindAuth, op, "Invalid D-ID API credentials", cause)
	case http.StatusPaymentRequired:
		return NewError(KindQuota, op, "Insufficient credits: "+detail, cause)
	case http.StatusBadRequest:
		return NewError(KindInvalidInput, op, "Invalid request parameters: "+detail, cause)
	case http.StatusUnavailableForLegalReasons:
		return NewError(KindInvalidInput, op, "Content moderation failed: "+detail, cause)
	default:
		return NewError(KindProvider, op, "Failed to call D-ID: "+detail, cause)
	}
}

func errorDetail(code int, raw []byte) string {
	var body talkResponse
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != nil {
			if d := firstNonEmpty(body.Error.Message, body.Error.Description); d != "" {
				return d
			}
		}
		if d := firstNonEmpty(body.Message, body.Description); d != "" {
			return d
		}
		return strconv.Itoa(code)
	}
	return "HTTP " + strconv.Itoa(code)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
