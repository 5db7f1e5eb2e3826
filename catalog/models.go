package catalog

import (
	"fmt"

	"github.com/dataforge-ai/dataforge/types"
)

// ProviderName identifies a model provider.
type ProviderName string

// Supported providers
const (
	ProviderOpenAI        ProviderName = "openai"
	ProviderAnthropic     ProviderName = "anthropic"
	ProviderGeminiAPI     ProviderName = "gemini_api"
	ProviderGroq          ProviderName = "groq"
	ProviderOpenRouter    ProviderName = "openrouter"
	ProviderOllama        ProviderName = "ollama"
	ProviderFireworksAI   ProviderName = "fireworks_ai"
	ProviderTogetherAI    ProviderName = "together_ai"
	ProviderAzureOpenAI   ProviderName = "azure_openai"
	ProviderAmazonBedrock ProviderName = "amazon_bedrock"
)

// ModelFamily groups models by architecture.
type ModelFamily string

// Model families
const (
	FamilyGPT      ModelFamily = "gpt"
	FamilyClaude   ModelFamily = "claude"
	FamilyGemini   ModelFamily = "gemini"
	FamilyLlama    ModelFamily = "llama"
	FamilyMistral  ModelFamily = "mistral"
	FamilyQwen     ModelFamily = "qwen"
	FamilyDeepSeek ModelFamily = "deepseek"
)

// ModelProvider describes one provider's offering of a model.
type ModelProvider struct {
	Name                 ProviderName `json:"name"`
	ModelID              string       `json:"model_id"`
	SupportsDataGen      bool         `json:"supports_data_gen"`
	SuggestedForDataGen  bool         `json:"suggested_for_data_gen,omitempty"`
	SupportsStructured   bool         `json:"supports_structured_output"`
	ProviderFinetuneID   string       `json:"provider_finetune_id,omitempty"`
}

// Model is one entry in the built-in catalog.
type Model struct {
	Family       ModelFamily     `json:"family"`
	Name         string          `json:"name"`
	FriendlyName string          `json:"friendly_name"`
	Providers    []ModelProvider `json:"providers"`
}

// builtInModels is the static catalog. Unlisted models can still be used by
// passing an explicit provider/model id; they are simply untested here.
var builtInModels = []Model{
	{
		Family: FamilyGPT, Name: "gpt_4_1", FriendlyName: "GPT 4.1",
		Providers: []ModelProvider{
			{Name: ProviderOpenAI, ModelID: "gpt-4.1", SupportsDataGen: true, SuggestedForDataGen: true, SupportsStructured: true, ProviderFinetuneID: "gpt-4.1-2025-04-14"},
			{Name: ProviderOpenRouter, ModelID: "openai/gpt-4.1", SupportsDataGen: true, SupportsStructured: true},
		},
	},
	{
		Family: FamilyGPT, Name: "gpt_4o", FriendlyName: "GPT 4o",
		Providers: []ModelProvider{
			{Name: ProviderOpenAI, ModelID: "gpt-4o", SupportsDataGen: true, SuggestedForDataGen: true, SupportsStructured: true, ProviderFinetuneID: "gpt-4o-2024-08-06"},
			{Name: ProviderOpenRouter, ModelID: "openai/gpt-4o", SupportsDataGen: true, SupportsStructured: true},
			{Name: ProviderAzureOpenAI, ModelID: "gpt-4o", SupportsDataGen: true, SupportsStructured: true},
		},
	},
	{
		Family: FamilyGPT, Name: "gpt_4o_mini", FriendlyName: "GPT 4o Mini",
		Providers: []ModelProvider{
			{Name: ProviderOpenAI, ModelID: "gpt-4o-mini", SupportsDataGen: true, SupportsStructured: true, ProviderFinetuneID: "gpt-4o-mini-2024-07-18"},
			{Name: ProviderOpenRouter, ModelID: "openai/gpt-4o-mini", SupportsDataGen: true, SupportsStructured: true},
		},
	},
	{
		Family: FamilyClaude, Name: "claude_3_5_sonnet", FriendlyName: "Claude 3.5 Sonnet",
		Providers: []ModelProvider{
			{Name: ProviderAnthropic, ModelID: "claude-3-5-sonnet-20241022", SupportsDataGen: true, SuggestedForDataGen: true, SupportsStructured: true},
			{Name: ProviderOpenRouter, ModelID: "anthropic/claude-3.5-sonnet", SupportsDataGen: true, SupportsStructured: true},
		},
	},
	{
		Family: FamilyClaude, Name: "claude_sonnet_4", FriendlyName: "Claude Sonnet 4",
		Providers: []ModelProvider{
			{Name: ProviderAnthropic, ModelID: "claude-sonnet-4-20250514", SupportsDataGen: true, SuggestedForDataGen: true, SupportsStructured: true},
			{Name: ProviderOpenRouter, ModelID: "anthropic/claude-sonnet-4", SupportsDataGen: true, SupportsStructured: true},
		},
	},
	{
		Family: FamilyGemini, Name: "gemini_2_5_pro", FriendlyName: "Gemini 2.5 Pro",
		Providers: []ModelProvider{
			{Name: ProviderGeminiAPI, ModelID: "gemini-2.5-pro", SupportsDataGen: true, SuggestedForDataGen: true, SupportsStructured: true},
			{Name: ProviderOpenRouter, ModelID: "google/gemini-2.5-pro", SupportsDataGen: true, SupportsStructured: true},
		},
	},
	{
		Family: FamilyGemini, Name: "gemini_2_0_flash", FriendlyName: "Gemini 2.0 Flash",
		Providers: []ModelProvider{
			{Name: ProviderGeminiAPI, ModelID: "gemini-2.0-flash", SupportsDataGen: true, SupportsStructured: true},
		},
	},
	{
		Family: FamilyLlama, Name: "llama_3_1_8b", FriendlyName: "Llama 3.1 8B",
		Providers: []ModelProvider{
			{Name: ProviderGroq, ModelID: "llama-3.1-8b-instant", SupportsDataGen: false, SupportsStructured: false},
			{Name: ProviderOllama, ModelID: "llama3.1:8b", SupportsDataGen: false, SupportsStructured: false},
			{Name: ProviderFireworksAI, ModelID: "accounts/fireworks/models/llama-v3p1-8b-instruct", SupportsDataGen: false, SupportsStructured: true},
		},
	},
	{
		Family: FamilyLlama, Name: "llama_3_3_70b", FriendlyName: "Llama 3.3 70B",
		Providers: []ModelProvider{
			{Name: ProviderGroq, ModelID: "llama-3.3-70b-versatile", SupportsDataGen: true, SupportsStructured: true},
			{Name: ProviderTogetherAI, ModelID: "meta-llama/Llama-3.3-70B-Instruct-Turbo", SupportsDataGen: true, SupportsStructured: true},
			{Name: ProviderOllama, ModelID: "llama3.3", SupportsDataGen: true, SupportsStructured: false},
		},
	},
	{
		Family: FamilyDeepSeek, Name: "deepseek_v3", FriendlyName: "DeepSeek V3",
		Providers: []ModelProvider{
			{Name: ProviderFireworksAI, ModelID: "accounts/fireworks/models/deepseek-v3", SupportsDataGen: true, SupportsStructured: true},
			{Name: ProviderTogetherAI, ModelID: "deepseek-ai/DeepSeek-V3", SupportsDataGen: true, SupportsStructured: true},
		},
	},
	{
		Family: FamilyQwen, Name: "qwen_2p5_72b", FriendlyName: "Qwen 2.5 72B",
		Providers: []ModelProvider{
			{Name: ProviderTogetherAI, ModelID: "Qwen/Qwen2.5-72B-Instruct-Turbo", SupportsDataGen: true, SupportsStructured: true},
			{Name: ProviderOllama, ModelID: "qwen2.5:72b", SupportsDataGen: true, SupportsStructured: false},
		},
	},
	{
		Family: FamilyMistral, Name: "mistral_large", FriendlyName: "Mistral Large",
		Providers: []ModelProvider{
			{Name: ProviderOpenRouter, ModelID: "mistralai/mistral-large", SupportsDataGen: true, SupportsStructured: true},
			{Name: ProviderAmazonBedrock, ModelID: "mistral.mistral-large-2407-v1:0", SupportsDataGen: true, SupportsStructured: false},
		},
	},
}

// BuiltIn returns the static model catalog.
func BuiltIn() []Model {
	out := make([]Model, len(builtInModels))
	copy(out, builtInModels)
	return out
}

// KnownProvider reports whether name is one of the supported providers.
func KnownProvider(name string) bool {
	switch ProviderName(name) {
	case ProviderOpenAI, ProviderAnthropic, ProviderGeminiAPI, ProviderGroq,
		ProviderOpenRouter, ProviderOllama, ProviderFireworksAI,
		ProviderTogetherAI, ProviderAzureOpenAI, ProviderAmazonBedrock:
		return true
	default:
		return false
	}
}

// Lookup finds the built-in entry offering the given provider/model-id pair.
func Lookup(provider, modelID string) (Model, ModelProvider, error) {
	for _, m := range builtInModels {
		for _, p := range m.Providers {
			if string(p.Name) == provider && p.ModelID == modelID {
				return m, p, nil
			}
		}
	}
	return Model{}, ModelProvider{}, types.NewError(types.ErrModelNotFound,
		fmt.Sprintf("model %s/%s is not in the built-in catalog", provider, modelID))
}

// SuggestedForDataGen returns the provider/model ids recommended for
// synthetic data generation.
func SuggestedForDataGen() []string {
	var out []string
	for _, m := range builtInModels {
		for _, p := range m.Providers {
			if p.SuggestedForDataGen {
				out = append(out, fmt.Sprintf("%s/%s", p.Name, p.ModelID))
			}
		}
	}
	return out
}
