package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContent_KnownVectors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "empty string",
			input: "",
			want:  "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name:  "hello world",
			input: "hello world",
			want:  "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Content(tt.input))
		})
	}
}

func TestContent_IsLowercaseHex64(t *testing.T) {
	hexPattern := regexp.MustCompile(`^[0-9a-f]{64}$`)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		b := make([]byte, rng.Intn(2000))
		rng.Read(b)
		got := Content(string(b))
		require.Regexp(t, hexPattern, got)
	}
}

func TestContent_MatchesStdlib(t *testing.T) {
	input := "some document content with unicode: héllo wörld 世界"
	sum := sha256.Sum256([]byte(input))
	assert.Equal(t, hex.EncodeToString(sum[:]), Content(input))
	assert.Equal(t, Content(input), Bytes([]byte(input)))
}

func TestShort_IsPrefixOfContent(t *testing.T) {
	input := "vmrag_main_D1_content_modification"
	full := Content(input)
	short := Short(input)

	require.Len(t, short, ShortLen)
	assert.Equal(t, full[:ShortLen], short)
}

func TestContent_Deterministic(t *testing.T) {
	// Same input must hash identically across calls (clone parity relies on it).
	input := "abc"
	assert.Equal(t, Content(input), Content(input))
}
