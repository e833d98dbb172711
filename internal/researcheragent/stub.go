package researcheragent

import "context"

// StubProvider is the in-process default SearchProvider: it returns no
// results for any query. It exists so ChoirOS runs end to end without a
// live network dependency wired; real bindings register under their own
// Name() and take priority once configured.
type StubProvider struct{ ProviderName string }

func (s *StubProvider) Name() string {
	if s.ProviderName == "" {
		return "stub"
	}
	return s.ProviderName
}

func (s *StubProvider) Search(ctx context.Context, query string) ([]Finding, error) {
	return nil, nil
}
