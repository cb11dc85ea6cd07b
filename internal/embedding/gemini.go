package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

const (
	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"

	// geminiBatchLimit is the most contents one EmbedContent call accepts.
	geminiBatchLimit = 100
)

// ContentEmbedder is the subset of the Gemini client used for embeddings.
type ContentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Gemini embeds text with a Gemini embedding model.
type Gemini struct {
	client     ContentEmbedder
	model      string
	dimensions int32
}

// NewGemini creates a Gemini embedder. dimensions of 0 keeps the model default.
func NewGemini(client ContentEmbedder, model string, dimensions int) *Gemini {
	return &Gemini{client: client, model: model, dimensions: int32(dimensions)}
}

func (g *Gemini) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += geminiBatchLimit {
		end := min(start+geminiBatchLimit, len(texts))
		vecs, err := g.embed(ctx, texts[start:end], taskRetrievalDocument)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (g *Gemini) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.embed(ctx, []string{text}, taskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (g *Gemini) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}

	cfg := &genai.EmbedContentConfig{TaskType: task}
	if g.dimensions > 0 {
		cfg.OutputDimensionality = &g.dimensions
	}

	resp, err := g.client.EmbedContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, finerr.Wrap(err, finerr.CodeProviderUpstreamFailure, "gemini embed content")
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, finerr.Errorf(finerr.CodeProviderResponseInvalid, "gemini returned %d embeddings for %d inputs", got, len(texts))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, finerr.New(finerr.CodeProviderResponseInvalid, fmt.Sprintf("empty embedding at index %d", i))
		}
		out[i] = e.Values
	}
	return out, nil
}
