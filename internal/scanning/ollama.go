package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Ollama implements TextExtractor and BillExtractor using a local Ollama server.
// Text extraction needs a vision model (llava, qwen2-vl, ...); bill parsing can use
// any instruction-tuned text model.
type Ollama struct {
	baseURL     string
	model       string
	visionModel string
	client      *http.Client
}

// NewOllama creates a new Ollama instance
func NewOllama(baseURL string, modelName string, visionModel string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llama3.1"
	}
	if visionModel == "" {
		visionModel = "llava"
	}

	return &Ollama{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       modelName,
		visionModel: visionModel,
		client: &http.Client{
			Timeout: 120 * time.Second, // Ollama can be slow, especially while loading a model
		},
	}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// ollamaStatusError is a non-200 response from the Ollama API
type ollamaStatusError struct {
	StatusCode int
	Body       string
}

func (e *ollamaStatusError) Error() string {
	return fmt.Sprintf("ollama API error (status %d): %s", e.StatusCode, e.Body)
}

// RecognizeText transcribes the bill photo with the configured vision model
func (o *Ollama) RecognizeText(ctx context.Context, imageData []byte, contentType string) (string, error) {
	finalImageData, err := prepareImageData(imageData, contentType)
	if err != nil {
		return "", err
	}

	reply, err := o.chat(ctx, ollamaChatRequest{
		Model: o.visionModel,
		Messages: []ollamaMessage{
			{
				Role:    "user",
				Content: transcribePrompt,
				Images:  []string{base64.StdEncoding.EncodeToString(finalImageData)},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("transcribing image: %w", err)
	}

	text := strings.TrimSpace(reply)
	if text == "" {
		return "", ErrNoTextFound
	}
	return text, nil
}

// Availability checks that the server is reachable and the parsing model is pulled
func (o *Ollama) Availability(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return unavailable(ReasonOther, err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return unavailable(ReasonOther, fmt.Errorf("calling ollama API: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return classifyOllamaStatus(&ollamaStatusError{StatusCode: resp.StatusCode, Body: string(body)})
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return unavailable(ReasonOther, fmt.Errorf("decoding tags: %w", err))
	}
	for _, m := range tags.Models {
		if sameOllamaModel(m.Name, o.model) || sameOllamaModel(m.Model, o.model) {
			return nil
		}
	}
	return unavailable(ReasonDeviceIneligible, fmt.Errorf("model %s is not installed", o.model))
}

// Parse extracts a structured bill from OCR text
func (o *Ollama) Parse(ctx context.Context, text string) (*ParsedBill, error) {
	reply, err := o.chat(ctx, ollamaChatRequest{
		Model:  o.model,
		Format: "json",
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: "You are an expert at reading restaurant bills and extracting line items, prices and tax.",
			},
			{
				Role:    "user",
				Content: billParsePrompt + text,
			},
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var se *ollamaStatusError
		if errors.As(err, &se) {
			return nil, classifyOllamaStatus(se)
		}
		return nil, unavailable(ReasonOther, err)
	}
	return parseBillJSON(reply)
}

// Close is a no-op for the HTTP client
func (o *Ollama) Close() error {
	return nil
}

func (o *Ollama) chat(ctx context.Context, reqBody ollamaChatRequest) (string, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &ollamaStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return chatResp.Message.Content, nil
}

func classifyOllamaStatus(se *ollamaStatusError) error {
	switch se.StatusCode {
	case http.StatusNotFound:
		return unavailable(ReasonDeviceIneligible, se)
	case http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return unavailable(ReasonModelWarmingUp, se)
	case http.StatusBadRequest, http.StatusInternalServerError:
		return parsingFailed("%s", se.Body)
	default:
		return unavailable(ReasonOther, se)
	}
}

// sameOllamaModel treats "llava" and "llava:latest" as the same model
func sameOllamaModel(listed, configured string) bool {
	if listed == configured {
		return true
	}
	return strings.TrimSuffix(listed, ":latest") == strings.TrimSuffix(configured, ":latest")
}
