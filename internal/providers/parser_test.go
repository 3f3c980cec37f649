package providers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseProviderList(t *testing.T) {
	refs := ParseProviderList("mock|OpenAI:key1, openai:key2")
	require.Len(t, refs, 3)
	require.Equal(t, "openai", refs[1].Name)
	require.Equal(t, "key1", refs[1].KeyAlias)
	require.Equal(t, "openai", refs[2].Name)
	require.Equal(t, "key2", refs[2].KeyAlias)
}

func TestParseProviderListDropsRepeats(t *testing.T) {
	refs := ParseProviderList("groq|groq|ollama")
	require.Len(t, refs, 2)
	require.Equal(t, "groq", refs[0].Name)
	require.Equal(t, "ollama", refs[1].Name)
}

func TestParseProviderListDefaultsToMock(t *testing.T) {
	refs := ParseProviderList(" | , ")
	require.Len(t, refs, 1)
	require.Equal(t, "mock", refs[0].Name)
}

func TestEnvToken(t *testing.T) {
	require.Equal(t, "TEAM_A_EU", envToken("team-a.eu"))
	require.Equal(t, "NOMIC_EMBED_TEXT", envToken(" nomic/embed text "))
}
