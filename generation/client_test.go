package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewImageClientFromEnvStubWithoutKey(t *testing.T) {
	t.Setenv("GENERATION_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	client, err := NewImageClientFromEnv()
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if !client.stub {
		t.Fatal("client without a key must run in stub mode")
	}

	result, err := client.Generate(context.Background(), Request{Prompt: "a quiet street"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.ImageData != PlaceholderDataURL {
		t.Errorf("stub must return the placeholder pixel, got %q", result.ImageData)
	}
	if result.Text == "" {
		t.Error("stub must return accompanying text")
	}
}

func TestNewImageClientFromEnvKeyFallback(t *testing.T) {
	t.Setenv("GENERATION_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "google-key")

	client, err := NewImageClientFromEnv()
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.stub || client.apiKey != "google-key" {
		t.Errorf("expected GOOGLE_API_KEY fallback, got stub=%v key=%q", client.stub, client.apiKey)
	}
}

func TestNewImageClientFromEnvRejectsBadBaseURL(t *testing.T) {
	t.Setenv("GENERATION_API_KEY", "key")
	t.Setenv("GENERATION_BASE_URL", "generativelanguage.googleapis.com")

	if _, err := NewImageClientFromEnv(); err == nil {
		t.Fatal("expected error for base URL without scheme")
	}
}

func TestGenerateRejectsEmptyPrompt(t *testing.T) {
	client := &ImageClient{stub: true}
	if _, err := client.Generate(context.Background(), Request{Prompt: "   "}); !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
}

func TestGenerateParsesProviderResponse(t *testing.T) {
	var captured generateContentRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/test-model:generateContent" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Errorf("unexpected api key header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}

		response := map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"parts": []map[string]any{
						{"text": "a misty alley "},
						{"inline_data": map[string]string{"mime_type": "image/png", "data": "aGVsbG8="}},
						{"text": "at dusk"},
					},
				},
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	client := &ImageClient{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    server.URL,
		apiKey:     "test-key",
		modelID:    "test-model",
	}

	result, err := client.Generate(context.Background(), Request{
		Prompt: "a misty alley",
		ReferenceImages: []string{
			"data:image/png;base64,aW1n",
			"https://cdn.test/characters/ari.png",
		},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.ImageData != "data:image/png;base64,aGVsbG8=" {
		t.Errorf("unexpected image data %q", result.ImageData)
	}
	if result.Text != "a misty alley at dusk" {
		t.Errorf("unexpected text %q", result.Text)
	}

	if len(captured.Contents) != 1 {
		t.Fatalf("expected 1 content block, got %d", len(captured.Contents))
	}
	parts := captured.Contents[0].Parts
	if len(parts) != 3 {
		t.Fatalf("expected prompt + 2 reference parts, got %d", len(parts))
	}
	if parts[1].InlineData == nil || parts[1].InlineData.Data != "aW1n" {
		t.Errorf("inline reference not encoded as inline_data: %+v", parts[1])
	}
	if parts[2].FileData == nil || parts[2].FileData.FileURI != "https://cdn.test/characters/ari.png" {
		t.Errorf("URL reference not encoded as file_data: %+v", parts[2])
	}
}

func TestGenerateFailsWithoutImagePart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"parts": []map[string]any{{"text": "sorry, text only"}},
				},
			}},
		})
	}))
	defer server.Close()

	client := &ImageClient{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    server.URL,
		apiKey:     "test-key",
		modelID:    "test-model",
	}

	_, err := client.Generate(context.Background(), Request{Prompt: "a misty alley"})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
}

func TestGenerateFailsOnUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := &ImageClient{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    server.URL,
		apiKey:     "test-key",
		modelID:    "test-model",
	}

	_, err := client.Generate(context.Background(), Request{Prompt: "a misty alley"})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error should carry the upstream status: %v", err)
	}
}

func TestPlaceholderPNGDecodes(t *testing.T) {
	data := PlaceholderPNG()
	if len(data) == 0 {
		t.Fatal("placeholder must decode to bytes")
	}
	if !strings.HasPrefix(string(data), "\x89PNG") {
		t.Error("placeholder bytes are not a PNG")
	}
}
