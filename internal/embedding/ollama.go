package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms/ollama"

	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

const defaultOllamaModel = "nomic-embed-text:latest"

// OllamaConfig configures a local Ollama embedder.
type OllamaConfig struct {
	Model   string
	BaseURL string
}

// batchEmbedder is what langchaingo's ollama.LLM provides.
type batchEmbedder interface {
	CreateEmbedding(ctx context.Context, inputTexts []string) ([][]float32, error)
}

// Ollama embeds through a local Ollama server.
type Ollama struct {
	llm batchEmbedder
}

func NewOllama(cfg OllamaConfig) (*Ollama, error) {
	if cfg.Model == "" {
		cfg.Model = defaultOllamaModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}

	llm, err := ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("NewOllama: initializing client: %w", err)
	}
	return &Ollama{llm: llm}, nil
}

func (o *Ollama) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := o.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, finerr.Wrap(err, finerr.CodeProviderUpstreamFailure, "ollama create embedding")
	}
	if len(vecs) != len(texts) {
		return nil, finerr.Errorf(finerr.CodeProviderResponseInvalid, "ollama returned %d embeddings for %d inputs", len(vecs), len(texts))
	}
	return vecs, nil
}

func (o *Ollama) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
