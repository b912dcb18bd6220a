package scanning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Gemini implements TextExtractor and BillExtractor using Google Gemini
type Gemini struct {
	client  *genai.Client
	vision  *genai.GenerativeModel
	parser  *genai.GenerativeModel
	timeout time.Duration
}

// NewGemini creates a new Gemini instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	vision := client.GenerativeModel(modelName)
	vision.SetTemperature(0)

	parser := client.GenerativeModel(modelName)
	parser.SetTemperature(0)
	parser.ResponseMIMEType = "application/json"
	parser.ResponseSchema = billSchema

	return &Gemini{
		client:  client,
		vision:  vision,
		parser:  parser,
		timeout: 60 * time.Second,
	}, nil
}

// billSchema constrains Gemini's output to the ParsedBill JSON shape
var billSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"restaurant_name": {
			Type:        genai.TypeString,
			Nullable:    true,
			Description: "The name of the restaurant, if visible on the bill",
		},
		"line_items": {
			Type:        genai.TypeArray,
			Description: "Individual food and drink line items only. Do not include tax, tip, subtotal, or total rows.",
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"name":  {Type: genai.TypeString, Description: "The name or description of the menu item"},
					"price": {Type: genai.TypeNumber, Description: "The price of this item in dollars"},
				},
				Required: []string{"name", "price"},
			},
		},
		"tax_amount": {
			Type:        genai.TypeNumber,
			Description: "The tax amount in dollars extracted from the bill",
		},
	},
	Required: []string{"line_items", "tax_amount"},
}

// RecognizeText transcribes the bill photo with the vision model
func (g *Gemini) RecognizeText(ctx context.Context, imageData []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	finalImageData, err := prepareImageData(imageData, contentType)
	if err != nil {
		return "", err
	}

	// genai.ImageData expects just the format suffix, everything is PNG by now
	resp, err := g.vision.GenerateContent(ctx,
		genai.ImageData("png", finalImageData),
		genai.Text(transcribePrompt),
	)
	if err != nil {
		return "", fmt.Errorf("transcribing image: %w", err)
	}

	text := strings.TrimSpace(responseText(resp))
	if text == "" {
		return "", ErrNoTextFound
	}
	return text, nil
}

// Availability checks that the configured model exists and supports content generation
func (g *Gemini) Availability(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	info, err := g.parser.Info(ctx)
	if err != nil {
		if ue := classifyGeminiError(err); isUnavailable(ue) {
			return ue
		}
		return unavailable(ReasonOther, err)
	}
	if !slices.Contains(info.SupportedGenerationMethods, "generateContent") {
		return unavailable(ReasonDeviceIneligible, fmt.Errorf("model %s does not support generateContent", info.Name))
	}
	return nil
}

// Parse extracts a structured bill from OCR text
func (g *Gemini) Parse(ctx context.Context, text string) (*ParsedBill, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.parser.GenerateContent(ctx, genai.Text(billParsePrompt+text))
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, err
		}
		return nil, classifyGeminiError(err)
	}

	out := responseText(resp)
	if strings.TrimSpace(out) == "" {
		return nil, parsingFailed("empty response from gemini")
	}
	return parseBillJSON(out)
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String()
}

// classifyGeminiError maps API failures onto the unavailable reasons; anything
// else means the model ran and its answer could not be used
func classifyGeminiError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusForbidden, http.StatusNotFound:
			return unavailable(ReasonDeviceIneligible, err)
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			return unavailable(ReasonModelWarmingUp, err)
		case http.StatusUnauthorized:
			return unavailable(ReasonOther, err)
		}
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return parsingFailed("response was blocked by the model")
	}

	return parsingFailed("%v", err)
}

func isUnavailable(err error) bool {
	var ue *ModelUnavailableError
	return errors.As(err, &ue)
}
