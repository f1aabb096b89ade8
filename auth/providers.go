package auth

// External identity providers the backend can federate with.
const (
	ProviderGitHub = "github"
	ProviderGoogle = "google"
)

var supportedProviders = map[string]struct{}{
	ProviderGitHub: {},
	ProviderGoogle: {},
}

func SupportedProvider(provider string) bool {
	_, ok := supportedProviders[provider]
	return ok
}
