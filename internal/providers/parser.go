package providers

import "strings"

// ProviderRef names one entry of GAZETTE_LLM_PROVIDERS or
// GAZETTE_EMBED_PROVIDERS, e.g. "openai:team" selects the OpenAI client with
// the key stored under GAZETTE_OPENAI_KEY_TEAM.
type ProviderRef struct {
	Raw      string
	Name     string
	KeyAlias string
}

// ParseProviderList reads a failover chain separated by "|" or ",". Names are
// lowercased and repeated entries dropped; an empty list means the mock
// provider.
func ParseProviderList(raw string) []ProviderRef {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == '|' || r == ',' })
	out := make([]ProviderRef, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		name, alias, _ := strings.Cut(f, ":")
		ref := ProviderRef{
			Raw:      f,
			Name:     strings.ToLower(strings.TrimSpace(name)),
			KeyAlias: strings.TrimSpace(alias),
		}
		if ref.Name == "" {
			continue
		}
		key := ref.Name + ":" + ref.KeyAlias
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ref)
	}
	if len(out) == 0 {
		out = append(out, ProviderRef{Raw: "mock", Name: "mock"})
	}
	return out
}

// envToken turns a key alias into an environment variable suffix:
// "team-a.eu" becomes "TEAM_A_EU".
func envToken(alias string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(alias))
}
