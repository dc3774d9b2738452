package model

import "testing"

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"lowercase", "Hello World", "hello world"},
		{"collapse inner whitespace", "  Trip   Planning  ", "trip planning"},
		{"tabs and newlines", "a\tb\nc", "a b c"},
		{"already normalized", "trip planning", "trip planning"},
		{"empty", "", ""},
		{"whitespace only", "   \t ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeTitle(tt.title)
			if got != tt.want {
				t.Errorf("NormalizeTitle(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}
}

// 归一化是幂等的：对归一化结果再归一化不改变任何东西
func TestNormalizeTitleIdempotent(t *testing.T) {
	titles := []string{"Introduction to Gemini API", "  Trip   Planning  ", "MIXED case\tTitle", ""}
	for _, title := range titles {
		once := NormalizeTitle(title)
		twice := NormalizeTitle(once)
		if once != twice {
			t.Errorf("NormalizeTitle not idempotent for %q: %q != %q", title, once, twice)
		}
	}
}

func TestSetTitle(t *testing.T) {
	var conv Conversation
	conv.SetTitle("  Trip   Planning  ")

	if conv.Title != "Trip   Planning" {
		t.Errorf("Title = %q, want %q", conv.Title, "Trip   Planning")
	}
	if conv.TitleNormalized != "trip planning" {
		t.Errorf("TitleNormalized = %q, want %q", conv.TitleNormalized, "trip planning")
	}
	// 归一化标题永远等于标题的归一化
	if conv.TitleNormalized != NormalizeTitle(conv.Title) {
		t.Error("TitleNormalized diverged from NormalizeTitle(Title)")
	}
}

func TestModelVariantValid(t *testing.T) {
	for _, v := range []ModelVariant{VariantPro, VariantFlash, VariantLite} {
		if !v.Valid() {
			t.Errorf("expected %q to be valid", v)
		}
	}
	for _, v := range []ModelVariant{"", "pro", "Ultra", "gemini-2.5-pro"} {
		if v.Valid() {
			t.Errorf("expected %q to be invalid", v)
		}
	}
}
