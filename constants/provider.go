package constants

// Provider identifies a model-provider binding.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Providers lists the providers with a Completer implementation.
var Providers = []Provider{ProviderOpenAI, ProviderAnthropic}
