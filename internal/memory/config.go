package memory

import "encoding/json"

// AgentConfig holds per-agent memory settings parsed from the agent's memory_config JSON.
type AgentConfig struct {
	Enabled             bool    `json:"enabled"`
	ShortTermEnabled    bool    `json:"short_term_enabled"`
	LongTermEnabled     bool    `json:"long_term_enabled"`
	ExtractionEnabled   bool    `json:"extraction_enabled"`
	MaxShortTermMsgs    int     `json:"max_short_term_msgs"`
	TopK                int     `json:"top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
}

// DefaultConfig returns an AgentConfig with every memory feature on.
func DefaultConfig() AgentConfig {
	return AgentConfig{
		Enabled:             true,
		ShortTermEnabled:    true,
		LongTermEnabled:     true,
		ExtractionEnabled:   true,
		MaxShortTermMsgs:    20,
		TopK:                5,
		SimilarityThreshold: 0.7,
	}
}

// ParseConfig parses memory_config JSON over base.
// Returns base on nil, empty, or invalid input. Partial JSON is merged over base.
func ParseConfig(data []byte, base AgentConfig) AgentConfig {
	if len(data) == 0 {
		return base
	}

	// Parse into a map first to reject non-objects
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return base
	}
	if len(raw) == 0 {
		return base
	}

	cfg := base
	if err := json.Unmarshal(data, &cfg); err != nil {
		return base
	}
	if cfg.TopK < 0 {
		cfg.TopK = base.TopK
	}
	if cfg.MaxShortTermMsgs < 0 {
		cfg.MaxShortTermMsgs = base.MaxShortTermMsgs
	}
	if cfg.SimilarityThreshold < -1 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = base.SimilarityThreshold
	}
	return cfg
}
