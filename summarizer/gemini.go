package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	httpclient "ytdigest/http"
)

// GeminiBaseURL is the Gemini REST root.
const GeminiBaseURL = "https://generativelanguage.googleapis.com"

// Remote file states reported by the Files API.
const (
	FileStateProcessing = "PROCESSING"
	FileStateActive     = "ACTIVE"
	FileStateFailed     = "FAILED"
)

// RemoteFile is a file held by the Files API.
type RemoteFile struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType"`
	State    string `json:"state"`
}

// GeminiClient talks to the Gemini REST API: the Files API for uploads and
// generateContent for prompts with attachments.
type GeminiClient struct {
	client  *httpclient.Client
	apiKey  string
	baseURL string
}

// NewGeminiClient creates a REST client on the shared HTTP client.
func NewGeminiClient(client *httpclient.Client, apiKey string) *GeminiClient {
	return &GeminiClient{client: client, apiKey: apiKey, baseURL: GeminiBaseURL}
}

func (g *GeminiClient) endpoint(path string) string {
	return g.baseURL + path + "?key=" + url.QueryEscape(g.apiKey)
}

// Upload sends the file at path with the resumable upload protocol.
func (g *GeminiClient) Upload(ctx context.Context, path, mimeType string) (*RemoteFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	meta, _ := json.Marshal(map[string]any{
		"file": map[string]string{"display_name": filepath.Base(path)},
	})
	start, err := g.client.Do(ctx, "POST", g.endpoint("/upload/v1beta/files"), meta, map[string]string{
		"Content-Type":                        "application/json",
		"X-Goog-Upload-Protocol":              "resumable",
		"X-Goog-Upload-Command":               "start",
		"X-Goog-Upload-Header-Content-Length": strconv.Itoa(len(data)),
		"X-Goog-Upload-Header-Content-Type":   mimeType,
	})
	if err != nil {
		return nil, fmt.Errorf("start upload: %w", err)
	}
	uploadURL := start.Header.Get("X-Goog-Upload-URL")
	if uploadURL == "" {
		return nil, errors.New("start upload: no upload URL in response")
	}

	done, err := g.client.Do(ctx, "POST", uploadURL, data, map[string]string{
		"X-Goog-Upload-Offset":  "0",
		"X-Goog-Upload-Command": "upload, finalize",
	})
	if err != nil {
		return nil, fmt.Errorf("upload bytes: %w", err)
	}

	var out struct {
		File RemoteFile `json:"file"`
	}
	if err := json.Unmarshal(done.Body, &out); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	if out.File.Name == "" {
		return nil, errors.New("upload response carries no file name")
	}
	return &out.File, nil
}

// GetFile returns the current state of a remote file ("files/abc").
func (g *GeminiClient) GetFile(ctx context.Context, name string) (*RemoteFile, error) {
	resp, err := g.client.Get(ctx, g.endpoint("/v1beta/"+name))
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", name, err)
	}
	var f RemoteFile
	if err := json.Unmarshal(resp.Body, &f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return &f, nil
}

// DeleteFile removes a remote file.
func (g *GeminiClient) DeleteFile(ctx context.Context, name string) error {
	if _, err := g.client.Do(ctx, "DELETE", g.endpoint("/v1beta/"+name), nil, nil); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

type geminiPart struct {
	Text     string          `json:"text,omitempty"`
	FileData *geminiFileData `json:"file_data,omitempty"`
}

type geminiFileData struct {
	MIMEType string `json:"mime_type"`
	FileURI  string `json:"file_uri"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Generate calls models/{model}:generateContent with the files placed
// before the prompt.
func (g *GeminiClient) Generate(ctx context.Context, model string, req Request) (string, error) {
	parts := make([]geminiPart, 0, len(req.Files)+1)
	for _, f := range req.Files {
		parts = append(parts, geminiPart{FileData: &geminiFileData{MIMEType: f.MIMEType, FileURI: f.URI}})
	}
	parts = append(parts, geminiPart{Text: req.Prompt})

	body, err := json.Marshal(geminiRequest{Contents: []geminiContent{{Role: "user", Parts: parts}}})
	if err != nil {
		return "", err
	}

	resp, err := g.client.Do(ctx, "POST", g.endpoint("/v1beta/models/"+model+":generateContent"), body, map[string]string{
		"Content-Type": "application/json",
	})
	if err != nil {
		if b := httpclient.ResponseBody(err); len(b) > 0 {
			return "", fmt.Errorf("generate %s: %w: %s", model, err, truncate(string(b), 300))
		}
		return "", fmt.Errorf("generate %s: %w", model, err)
	}

	var gr geminiResponse
	if err := json.Unmarshal(resp.Body, &gr); err != nil {
		return "", fmt.Errorf("decode %s response: %w", model, err)
	}
	if gr.PromptFeedback != nil && gr.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("generate %s: prompt blocked: %s", model, gr.PromptFeedback.BlockReason)
	}
	var sb strings.Builder
	if len(gr.Candidates) > 0 {
		for _, p := range gr.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("generate %s: no content in response", model)
	}
	return sb.String(), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Backend routes text-only requests to text and requests with files to rest.
type Backend struct {
	text Generator
	rest *GeminiClient
}

// NewBackend combines a text generator with the REST client.
func NewBackend(text Generator, rest *GeminiClient) *Backend {
	return &Backend{text: text, rest: rest}
}

// Generate implements Generator.
func (b *Backend) Generate(ctx context.Context, model string, req Request) (string, error) {
	if len(req.Files) > 0 || b.text == nil {
		return b.rest.Generate(ctx, model, req)
	}
	return b.text.Generate(ctx, model, req)
}
