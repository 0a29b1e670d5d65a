package catalog

// Speed is a coarse latency tier declared per model.
type Speed string

const (
	SpeedFast   Speed = "fast"
	SpeedMedium Speed = "medium"
	SpeedSlow   Speed = "slow"
)

// Quality is a coarse output-quality tier declared per model.
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

type CostPer1K struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

type Capabilities struct {
	Vision           bool      `json:"supports_vision"`
	FunctionCalling  bool      `json:"supports_function_calling"`
	Streaming        bool      `json:"supports_streaming"`
	MaxContextTokens int       `json:"max_context_length"`
	CostPer1KTokens  CostPer1K `json:"cost_per_1k_tokens"`
	Speed            Speed     `json:"speed"`
	Quality          Quality   `json:"quality"`
}

// ModelInfo describes one (provider, model) pair. Entries are built at
// process start from the registered adapters and never mutated
// mid-request.
type ModelInfo struct {
	Provider     string       `json:"provider"`
	Model        string       `json:"model"`
	Capabilities Capabilities `json:"capabilities"`
}

// Catalog is an ordered, read-only snapshot of the known models.
// Order is registration order, which the selector uses as the final
// deterministic tie-break.
type Catalog struct {
	entries []ModelInfo
}

func New(entries []ModelInfo) *Catalog {
	cp := make([]ModelInfo, len(entries))
	copy(cp, entries)
	return &Catalog{entries: cp}
}

func (c *Catalog) Entries() []ModelInfo {
	return c.entries
}

func (c *Catalog) Len() int {
	return len(c.entries)
}

// ByProvider returns the first catalog entry for the given provider.
func (c *Catalog) ByProvider(name string) (ModelInfo, bool) {
	for _, e := range c.entries {
		if e.Provider == name {
			return e, true
		}
	}
	return ModelInfo{}, false
}
