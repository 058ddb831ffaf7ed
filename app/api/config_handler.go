package api

import (
	"github.com/gofiber/fiber/v2"

	"docqa/app/agent"
	"docqa/config"
)

type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		cfg: cfg,
	}
}

type providerView struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

type configView struct {
	ChunkSize        int          `json:"chunk_size"`
	ChunkOverlap     int          `json:"chunk_overlap"`
	VectorStoreType  string       `json:"vector_store_type"`
	K                int          `json:"k"`
	PromptTemplate   string       `json:"prompt_template"`
	MaxContextTokens int          `json:"max_context_tokens,omitempty"`
	Templates        []string     `json:"available_templates"`
	Embeddings       providerView `json:"embeddings"`
	Generation       providerView `json:"generation"`
}

// HandleGetConfig reports the effective retrieval settings. Keys, DSNs and
// base URLs are never included.
func (h *ConfigHandler) HandleGetConfig(c *fiber.Ctx) error {
	return c.JSON(configView{
		ChunkSize:        h.cfg.Chunker.ChunkSize,
		ChunkOverlap:     h.cfg.Chunker.ChunkOverlap,
		VectorStoreType:  h.cfg.VectorStore.Type,
		K:                h.cfg.Retrieval.K,
		PromptTemplate:   h.cfg.Retrieval.PromptTemplate,
		MaxContextTokens: h.cfg.Retrieval.MaxContextTokens,
		Templates:        agent.TemplateIDs(),
		Embeddings:       providerView{Provider: h.cfg.Embeddings.Provider, Model: h.cfg.Embeddings.Model},
		Generation:       providerView{Provider: h.cfg.Generation.Provider, Model: h.cfg.Generation.Model},
	})
}
