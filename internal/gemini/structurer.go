package gemini

import (
	"context"
	"encoding/json"
	"strings"

	"google.golang.org/genai"

	"github.com/dvloznov/finance-advisor/internal/domain"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

var extractionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"transactions": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"date":     {Type: genai.TypeString, Description: "YYYY-MM-DD"},
					"merchant": {Type: genai.TypeString},
					"amount":   {Type: genai.TypeNumber},
					"currency": {Type: genai.TypeString},
					"category": {Type: genai.TypeString},
				},
				Required: []string{"date", "merchant", "amount", "category"},
			},
		},
		"summary": {Type: genai.TypeString},
	},
	Required: []string{"transactions", "summary"},
}

// Structurer turns raw document text into candidate transactions.
type Structurer struct {
	client   Generator
	model    string
	maxBytes int
}

// NewStructurer creates a structurer. Text longer than maxBytes is truncated
// before it is sent; maxBytes <= 0 sends everything.
func NewStructurer(client Generator, model string, maxBytes int) *Structurer {
	return &Structurer{client: client, model: model, maxBytes: maxBytes}
}

func (s *Structurer) Structure(ctx context.Context, text string) (domain.Extraction, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Extraction{}, nil
	}
	if s.maxBytes > 0 && len(text) > s.maxBytes {
		text = text[:s.maxBytes]
	}

	contents := []*genai.Content{
		genai.NewContentFromText("Raw Text:\n"+text, genai.RoleUser),
	}
	resp, err := s.client.GenerateContent(ctx, s.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(structuringPrompt(), genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    extractionSchema,
		Temperature:       genai.Ptr[float32](0),
	})
	if err != nil {
		return domain.Extraction{}, finerr.Wrap(err, finerr.CodePipelineStructFailure, "structuring text")
	}
	if resp == nil || resp.Text() == "" {
		return domain.Extraction{}, finerr.New(finerr.CodePipelineStructFailure, "empty response from model")
	}

	return parseExtraction(resp.Text())
}

func parseExtraction(raw string) (domain.Extraction, error) {
	clean := cleanModelJSON(raw)

	var out domain.Extraction
	if strings.HasPrefix(clean, "[") {
		// Some models ignore the schema and return the bare list.
		if err := json.Unmarshal([]byte(clean), &out.Transactions); err != nil {
			return domain.Extraction{}, finerr.Wrap(err, finerr.CodePipelineStructFailure, "decoding model JSON")
		}
	} else if err := json.Unmarshal([]byte(clean), &out); err != nil {
		return domain.Extraction{}, finerr.Wrap(err, finerr.CodePipelineStructFailure, "decoding model JSON")
	}

	for i := range out.Transactions {
		tx := &out.Transactions[i]
		tx.Merchant = strings.TrimSpace(tx.Merchant)
		tx.Date = strings.TrimSpace(tx.Date)
		tx.Currency = strings.ToUpper(strings.TrimSpace(tx.Currency))
		if tx.Currency == "" {
			tx.Currency = domain.DefaultCurrency
		}
		tx.Category = domain.NormalizeCategory(tx.Category)
	}
	return out, nil
}

// cleanModelJSON strips Markdown fences and any prose around the JSON value.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return s
		}
		s = strings.TrimSpace(s[idx+1:])
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	open := strings.IndexAny(s, "{[")
	if open == -1 {
		return s
	}
	closer := "}"
	if s[open] == '[' {
		closer = "]"
	}
	if end := strings.LastIndex(s, closer); end > open {
		s = s[open : end+1]
	}
	return strings.TrimSpace(s)
}
