// Package voice provides speech-to-text for channel adapters that receive
// voice messages (Telegram voice notes, Discord voice attachments).
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const defaultGroqTranscriptionURL = "https://api.groq.com/openai/v1/audio/transcriptions"

// TranscriptionResult is the outcome of transcribing one audio file.
type TranscriptionResult struct {
	Text     string
	Language string
}

// GroqTranscriber transcribes audio files via Groq's Whisper-compatible
// transcription endpoint. It follows the same raw net/http client shape as
// pkg/providers/http_provider.go rather than pulling in a dedicated SDK,
// since the transcription call is a single multipart POST.
type GroqTranscriber struct {
	apiKey     string
	apiBase    string
	model      string
	httpClient *http.Client
}

// NewGroqTranscriber builds a transcriber. If apiKey is empty, IsAvailable
// reports false and Transcribe always errors, so callers can construct this
// unconditionally and let the channel adapter gate on availability.
func NewGroqTranscriber(apiKey, model string) *GroqTranscriber {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &GroqTranscriber{
		apiKey:  apiKey,
		apiBase: defaultGroqTranscriptionURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// IsAvailable reports whether transcription is configured.
func (t *GroqTranscriber) IsAvailable() bool {
	return t != nil && t.apiKey != ""
}

// Transcribe uploads the audio file at path and returns its transcribed
// text. The caller is responsible for downloading the file first (voice
// messages arrive as channel-specific file references, not raw bytes).
func (t *GroqTranscriber) Transcribe(ctx context.Context, path string) (*TranscriptionResult, error) {
	if !t.IsAvailable() {
		return nil, fmt.Errorf("voice: groq transcriber not configured")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("voice: open audio file: %w", err)
	}
	defer f.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("voice: create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("voice: copy audio into request: %w", err)
	}
	if err := writer.WriteField("model", t.model); err != nil {
		return nil, fmt.Errorf("voice: write model field: %w", err)
	}
	if err := writer.WriteField("response_format", "json"); err != nil {
		return nil, fmt.Errorf("voice: write response_format field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("voice: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.apiBase, body)
	if err != nil {
		return nil, fmt.Errorf("voice: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voice: transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("voice: read transcription response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("voice: transcription failed (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("voice: decode transcription response: %w", err)
	}

	return &TranscriptionResult{Text: parsed.Text, Language: parsed.Language}, nil
}
