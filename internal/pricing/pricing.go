package pricing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelPricing holds USD prices per 1M tokens and the model's context
// window. Prices follow the providers' published per-1M rates.
type ModelPricing struct {
	InputPerMTok  float64 `yaml:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok"`
	ContextWindow int     `yaml:"context_window"`
}

type tableFile struct {
	Models  map[string]ModelPricing `yaml:"models"`
	Default *ModelPricing           `yaml:"default"`
}

// Table resolves per-token JPY unit prices and context windows per
// model. Unknown models use the default entry, which is priced
// conservatively high so estimates stay on the safe side.
type Table struct {
	models     map[string]ModelPricing
	def        ModelPricing
	usdJPYRate float64
}

func defaultModels() map[string]ModelPricing {
	return map[string]ModelPricing{
		"gpt-4o-mini": {InputPerMTok: 0.15, OutputPerMTok: 0.60, ContextWindow: 128000},
		"gpt-4o":      {InputPerMTok: 2.50, OutputPerMTok: 10.00, ContextWindow: 128000},
	}
}

// Load reads a YAML pricing table. An empty path returns the built-in
// table. defaultWindow applies to entries without a context window.
func Load(path string, usdJPYRate float64, defaultWindow int) (*Table, error) {
	t := &Table{
		models:     defaultModels(),
		def:        ModelPricing{InputPerMTok: 2.50, OutputPerMTok: 10.00, ContextWindow: defaultWindow},
		usdJPYRate: usdJPYRate,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read pricing file: %w", err)
		}
		var f tableFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse pricing file: %w", err)
		}
		if len(f.Models) > 0 {
			t.models = f.Models
		}
		if f.Default != nil {
			t.def = *f.Default
		}
	}

	for name, m := range t.models {
		if m.ContextWindow == 0 {
			m.ContextWindow = defaultWindow
			t.models[name] = m
		}
	}
	if t.def.ContextWindow == 0 {
		t.def.ContextWindow = defaultWindow
	}
	return t, nil
}

func (t *Table) lookup(model string) ModelPricing {
	if m, ok := t.models[model]; ok {
		return m
	}
	return t.def
}

// InputPriceJPY returns the per-token input price in JPY.
func (t *Table) InputPriceJPY(model string) float64 {
	return t.lookup(model).InputPerMTok / 1_000_000 * t.usdJPYRate
}

// OutputPriceJPY returns the per-token output price in JPY.
func (t *Table) OutputPriceJPY(model string) float64 {
	return t.lookup(model).OutputPerMTok / 1_000_000 * t.usdJPYRate
}

// ContextWindow returns the model's combined prompt+output token limit.
func (t *Table) ContextWindow(model string) int {
	return t.lookup(model).ContextWindow
}

// PreEstimateJPY is the admission pre-check upper bound: the question
// plus an anticipated 2x of it for retrieved context, charged at the
// input rate, plus the full output allowance at the output rate. The
// 2x factor is a tunable heuristic, not a measured bound.
func (t *Table) PreEstimateJPY(model string, questionTokens, maxOutputTokens int) float64 {
	in := float64(questionTokens+2*questionTokens) * t.InputPriceJPY(model)
	out := float64(maxOutputTokens) * t.OutputPriceJPY(model)
	return in + out
}

// ActualJPY is the settled cost from measured token counts.
func (t *Table) ActualJPY(model string, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*t.InputPriceJPY(model) + float64(outputTokens)*t.OutputPriceJPY(model)
}
