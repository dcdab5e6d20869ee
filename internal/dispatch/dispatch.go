// Package dispatch resolves inbound model identifiers to upstream providers
// and answers capability questions about them.
package dispatch

import "strings"

// Provider identifies an upstream vendor. The set is closed; anything
// unrecognized resolves to DefaultProvider.
type Provider string

const (
	Anthropic   Provider = "anthropic"
	OpenRouter  Provider = "openrouter"
	Featherless Provider = "featherless"
	Groq        Provider = "groq"
	Together    Provider = "together"
)

// DefaultProvider serves model strings without a recognized prefix.
const DefaultProvider = Anthropic

// Target is a resolved provider plus the provider-native model name.
type Target struct {
	Provider    Provider
	Model       string
	NativeTools bool
}

// All lists every known provider in a stable order.
func All() []Provider {
	return []Provider{Anthropic, OpenRouter, Featherless, Groq, Together}
}

var byPrefix = map[string]Provider{
	"anthropic":   Anthropic,
	"openrouter":  OpenRouter,
	"featherless": Featherless,
	"groq":        Groq,
	"together":    Together,
}

// ParseModel splits a "provider/rest" model string. Unrecognized prefixes
// fall back to the default provider with the full string as the model name,
// so malformed input never fails the call.
func ParseModel(model string) Target {
	model = strings.TrimSpace(model)
	if idx := strings.Index(model, "/"); idx > 0 {
		if p, ok := byPrefix[strings.ToLower(model[:idx])]; ok {
			native := model[idx+1:]
			return Target{Provider: p, Model: native, NativeTools: SupportsNativeTools(p, native)}
		}
	}
	return Target{
		Provider:    DefaultProvider,
		Model:       model,
		NativeTools: SupportsNativeTools(DefaultProvider, model),
	}
}

// Providers with partial native tool support list model-name substrings
// known to honor structured tool schemas.
var nativeToolModels = map[Provider][]string{
	Groq:     {"llama-3.1", "llama-3.3", "llama3-groq", "qwen", "deepseek-r1-distill"},
	Together: {"llama-3.1", "llama-3.3", "qwen2.5", "mixtral-8x22b"},
}

// SupportsNativeTools reports whether a provider/model pair can honor
// structured tool definitions. Featherless hosts unrestricted fine-tunes
// that ignore tool schemas, so it is always emulated.
func SupportsNativeTools(p Provider, model string) bool {
	switch p {
	case Anthropic, OpenRouter:
		return true
	case Featherless:
		return false
	}
	needle := strings.ToLower(model)
	for _, s := range nativeToolModels[p] {
		if strings.Contains(needle, s) {
			return true
		}
	}
	return false
}

// limits holds the documented context window and maximum output tokens per
// provider. Conservative values: a provider serving mixed catalogs gets the
// smallest window among its common models.
type limits struct {
	ContextWindow int
	MaxOutput     int
}

var providerLimits = map[Provider]limits{
	Anthropic:   {ContextWindow: 200000, MaxOutput: 8192},
	OpenRouter:  {ContextWindow: 131072, MaxOutput: 8192},
	Featherless: {ContextWindow: 16384, MaxOutput: 4096},
	Groq:        {ContextWindow: 32768, MaxOutput: 8192},
	Together:    {ContextWindow: 32768, MaxOutput: 4096},
}

// ContextWindow returns the provider's maximum combined input+output tokens.
func ContextWindow(p Provider) int {
	if l, ok := providerLimits[p]; ok {
		return l.ContextWindow
	}
	return providerLimits[DefaultProvider].ContextWindow
}

// MaxOutputTokens returns the provider's documented output ceiling.
func MaxOutputTokens(p Provider) int {
	if l, ok := providerLimits[p]; ok {
		return l.MaxOutput
	}
	return providerLimits[DefaultProvider].MaxOutput
}

// UsesAnthropicWire reports whether the provider speaks the Messages API
// natively; everything else gets the OpenAI-compatible chat schema.
func UsesAnthropicWire(p Provider) bool {
	return p == Anthropic
}
