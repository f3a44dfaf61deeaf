package phonetic_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/voxrip/voxrip/internal/phonetic"
)

func TestDefaultTableLoads(t *testing.T) {
	n := phonetic.Default()
	if n.Version() != "1.0" {
		t.Errorf("Version() = %q, want 1.0", n.Version())
	}
	if len(n.PopularArchetypes()) == 0 || len(n.ObscureArchetypes()) == 0 {
		t.Error("archetype lists must not be empty")
	}
	if !slices.Contains(n.PopularArchetypes(), "blue-eyes") {
		t.Error("popular archetypes missing blue-eyes")
	}
	if !slices.Contains(n.ObscureArchetypes(), "gusto") {
		t.Error("obscure archetypes missing gusto")
	}
}

func TestNewRejectsBadTables(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not yaml", "{{{"},
		{"missing version", "categories: []"},
		{"bad regex", "version: \"1.0\"\ncategories:\n  - name: broken\n    patterns:\n      - match: '['\n        replace: x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := phonetic.New([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	n := phonetic.Default()
	tests := []struct {
		in   string
		want string
	}{
		{"Blue Ice White Dragun", "blue-eyes white dragon"},
		{"blue eyes white dragon", "blue-eyes white dragon"},
		{"Dark Magishan Girl", "dark magician girl"},
		{"The Dark Magician", "dark magician"},
		{"summon skull", "summoned skull"},
		{"pot of gred", "pot greed"},
		{"miror force", "mirror force"},
		{"exodia the forbidden one", "exodia"},
		{"cyber dragoon", "cyber dragon"},
		{"a zomby card", "zombie"},
		{"quick play spell", "quick-play"},
		{"Ryuu no Tsuku Yomi", "ryu no tsukuyomi"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := n.Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	n := phonetic.Default()
	for _, in := range []string{
		"Blue Ice White Dragun",
		"Dark Magician Girl",
		"summoned skull",
		"harpy lady",
	} {
		once := n.Normalize(in)
		if twice := n.Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestGenerateVariants(t *testing.T) {
	n := phonetic.Default()
	got := n.GenerateVariants("Blue Ice White Dragun")
	if len(got) == 0 {
		t.Fatal("no variants")
	}
	if got[0] != "blue-eyes white dragon" {
		t.Errorf("first variant = %q, want the canonical form", got[0])
	}
	for _, want := range []string{
		"blue ice white dragun",
		"blue-eyeswhitedragon",
		"blue-eyes-white-dragon",
		"blue eyes white dragon",
		"blueeyeswhitedragon",
	} {
		if !slices.Contains(got, want) {
			t.Errorf("variants missing %q", want)
		}
	}
	if len(got) > phonetic.MaxVariants {
		t.Errorf("%d variants exceeds bound %d", len(got), phonetic.MaxVariants)
	}
	seen := make(map[string]struct{}, len(got))
	for _, v := range got {
		if _, dup := seen[v]; dup {
			t.Errorf("duplicate variant %q", v)
		}
		seen[v] = struct{}{}
	}
}

func TestGenerateVariantsPhoneticSubs(t *testing.T) {
	got := phonetic.Default().GenerateVariants("kuriboh")
	for _, want := range []string{"curiboh", "kuryboh"} {
		if !slices.Contains(got, want) {
			t.Errorf("variants missing substitution %q (got %v)", want, got)
		}
	}
}

func TestGenerateVariantsDoubleLetters(t *testing.T) {
	got := phonetic.Default().GenerateVariants("summoned skull")
	for _, want := range []string{"sumoned skull", "summoned skul"} {
		if !slices.Contains(got, want) {
			t.Errorf("variants missing collapse %q", want)
		}
	}
}

func TestGenerateVariantsEmpty(t *testing.T) {
	if got := phonetic.Default().GenerateVariants("   "); got != nil {
		t.Errorf("GenerateVariants(blank) = %v, want nil", got)
	}
}

func TestGenerateVariantsBounded(t *testing.T) {
	long := strings.Repeat("misty valley shrine keeper ", 8)
	got := phonetic.Default().GenerateVariants(long)
	if len(got) > phonetic.MaxVariants {
		t.Errorf("%d variants exceeds bound %d", len(got), phonetic.MaxVariants)
	}
}

func TestContainsJapanese(t *testing.T) {
	n := phonetic.Default()
	tests := []struct {
		in   string
		want bool
	}{
		{"Tsukuyomi", true},
		{"shiranui solitaire", true},
		{"Yamata Dragon", true},
		{"blue-eyes white dragon", false},
		{"mirror force", false},
	}
	for _, tt := range tests {
		if got := n.ContainsJapanese(tt.in); got != tt.want {
			t.Errorf("ContainsJapanese(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsPopularSet(t *testing.T) {
	n := phonetic.Default()
	tests := []struct {
		in   string
		want bool
	}{
		{"LOB", true},
		{"lob", true},
		{" mrd ", true},
		{"ZZZZ", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := n.IsPopularSet(tt.in); got != tt.want {
			t.Errorf("IsPopularSet(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
