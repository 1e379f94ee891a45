package textutil

import (
	"reflect"
	"testing"
)

func TestTerms_DropsStopwordsAndLowercases(t *testing.T) {
	got := Terms("What is the PM Accelerator? It's 2024.")
	want := []string{"what", "pm", "accelerator", "it's", "2024"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Terms = %v, want %v", got, want)
	}
}

func TestSentences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"two", "First one. Second one!", []string{"First one.", "Second one!"}},
		{"no_punctuation", "  just words  ", []string{"just words"}},
		{"empty", "   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sentences(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Sentences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
