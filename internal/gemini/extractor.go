package gemini

import (
	"context"
	"strings"

	"google.golang.org/genai"

	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

const pdfMIMEType = "application/pdf"

// Generator is the generation half of Client.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// TextExtractor reads a PDF's text by sending it inline to a multimodal model.
type TextExtractor struct {
	client Generator
	model  string
}

func NewTextExtractor(client Generator, model string) *TextExtractor {
	return &TextExtractor{client: client, model: model}
}

// ExtractText returns the document text. A document with no readable text
// yields "" and no error.
func (e *TextExtractor) ExtractText(ctx context.Context, content []byte) (string, error) {
	if len(content) == 0 {
		return "", nil
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(extractionPrompt),
			genai.NewPartFromBytes(content, pdfMIMEType),
		}, genai.RoleUser),
	}

	resp, err := e.client.GenerateContent(ctx, e.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return "", finerr.Wrap(err, finerr.CodePipelineExtractFailure, "extracting pdf text")
	}
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Text()), nil
}
