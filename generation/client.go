package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModelID = "gemini-2.0-flash-exp"
)

// ErrGenerationFailed marks any gateway failure. The in-flight operation must
// abort without partial writes; a retry is always an explicit new call.
var ErrGenerationFailed = errors.New("generation: gateway call failed")

// placeholderPNGBase64 is a 1x1 transparent pixel served while the real image
// backend is stubbed out.
const placeholderPNGBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChAI/mF8UPQAAAABJRU5ErkJggg=="

// PlaceholderDataURL is the inline form of the placeholder pixel.
const PlaceholderDataURL = "data:image/png;base64," + placeholderPNGBase64

// PlaceholderPNG returns the decoded placeholder pixel bytes.
func PlaceholderPNG() []byte {
	data, _ := base64.StdEncoding.DecodeString(placeholderPNGBase64)
	return data
}

// Request carries one structured generation prompt. Reference images are
// passed by URL (or inline data URL) and never as text.
type Request struct {
	Prompt          string
	ReferenceImages []string
}

// Result is the gateway outcome: one image plus the model's accompanying text.
// The call never partially succeeds; a missing image is a failure.
type Result struct {
	ImageData string
	Text      string
}

// ImageClient wraps the HTTP calls to a Gemini-compatible generateContent API.
// Calls are blocking and may take multiple seconds; there is no streaming.
type ImageClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	modelID    string
	stub       bool
}

// NewImageClientFromEnv constructs an ImageClient using environment variables.
//
// Expected variables:
//   - GENERATION_API_KEY: API key for the provider (falls back to GOOGLE_API_KEY)
//   - GENERATION_BASE_URL: optional override for the API base URL
//   - GENERATION_MODEL_ID: optional override for the target model
//
// Without a key the client runs in stub mode and returns the placeholder image.
func NewImageClientFromEnv() (*ImageClient, error) {
	apiKey := strings.TrimSpace(os.Getenv("GENERATION_API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))
	}

	baseURL := strings.TrimSpace(os.Getenv("GENERATION_BASE_URL"))
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("generation: invalid base URL %q", baseURL)
	}

	modelID := strings.TrimSpace(os.Getenv("GENERATION_MODEL_ID"))
	if modelID == "" {
		modelID = defaultModelID
	}

	httpClient := &http.Client{Timeout: 120 * time.Second}

	return &ImageClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		modelID:    modelID,
		stub:       apiKey == "",
	}, nil
}

// generateContentPart mirrors one content part of the provider payload.
type generateContentPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
	FileData   *fileData   `json:"file_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type fileData struct {
	MimeType string `json:"mime_type,omitempty"`
	FileURI  string `json:"file_uri"`
}

type generateContentRequest struct {
	Contents []struct {
		Parts []generateContentPart `json:"parts"`
	} `json:"contents"`
}

// generateContentResponse captures the subset of fields we consume.
type generateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []generateContentPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Generate sends the prompt and reference images to the model and returns the
// produced image with its text. Stub mode returns the placeholder pixel.
func (c *ImageClient) Generate(ctx context.Context, req Request) (Result, error) {
	if c == nil {
		return Result{}, fmt.Errorf("%w: client is nil", ErrGenerationFailed)
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return Result{}, fmt.Errorf("%w: prompt cannot be empty", ErrGenerationFailed)
	}

	if c.stub {
		return Result{
			ImageData: PlaceholderDataURL,
			Text:      "Generated placeholder response for: " + prompt,
		}, nil
	}

	parts := []generateContentPart{{Text: prompt}}
	for _, ref := range req.ReferenceImages {
		trimmed := strings.TrimSpace(ref)
		if trimmed == "" {
			continue
		}
		parts = append(parts, referencePart(trimmed))
	}

	var payload generateContentRequest
	payload.Contents = append(payload.Contents, struct {
		Parts []generateContentPart `json:"parts"`
	}{Parts: parts})

	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return Result{}, fmt.Errorf("%w: encode request: %v", ErrGenerationFailed, err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.modelID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: create request: %v", ErrGenerationFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("%w: execute request: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return Result{}, fmt.Errorf("%w: unexpected status %s: %s", ErrGenerationFailed, resp.Status, strings.TrimSpace(string(snippet)))
	}

	var decoded generateContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("%w: decode response: %v", ErrGenerationFailed, err)
	}

	if len(decoded.Candidates) == 0 {
		return Result{}, fmt.Errorf("%w: response contains no candidates", ErrGenerationFailed)
	}

	var result Result
	var textBuilder strings.Builder
	for _, part := range decoded.Candidates[0].Content.Parts {
		if part.Text != "" {
			textBuilder.WriteString(part.Text)
		}
		if part.InlineData != nil && result.ImageData == "" {
			mime := strings.TrimSpace(part.InlineData.MimeType)
			if mime == "" {
				mime = "image/png"
			}
			result.ImageData = "data:" + mime + ";base64," + part.InlineData.Data
		}
	}
	result.Text = strings.TrimSpace(textBuilder.String())

	if result.ImageData == "" {
		return Result{}, fmt.Errorf("%w: response contains no image", ErrGenerationFailed)
	}

	return result, nil
}

// referencePart encodes one reference image: inline payloads travel as
// inline_data, anything else as a file URI.
func referencePart(ref string) generateContentPart {
	if strings.HasPrefix(ref, "data:image/") {
		rest := strings.TrimPrefix(ref, "data:")
		if idx := strings.Index(rest, ";base64,"); idx >= 0 {
			return generateContentPart{InlineData: &inlineData{
				MimeType: rest[:idx],
				Data:     rest[idx+len(";base64,"):],
			}}
		}
	}
	return generateContentPart{FileData: &fileData{MimeType: "image/png", FileURI: ref}}
}
