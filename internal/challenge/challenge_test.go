package challenge

import (
	"strings"
	"testing"
)

func TestDifficultyValid(t *testing.T) {
	for _, d := range []Difficulty{Easy, Medium, Hard, Extreme} {
		if !d.Valid() {
			t.Errorf("expected %q to be valid", d)
		}
	}
	if Difficulty("impossible").Valid() {
		t.Error("expected unknown difficulty to be invalid")
	}
}

func TestMaxAttempts(t *testing.T) {
	if got := Easy.MaxAttempts(); got != 3 {
		t.Errorf("easy max attempts = %d, want 3", got)
	}
	if got := Hard.MaxAttempts(); got != 3 {
		t.Errorf("hard max attempts = %d, want 3", got)
	}
	if got := Extreme.MaxAttempts(); got != 2 {
		t.Errorf("extreme max attempts = %d, want 2", got)
	}
}

func TestGenerateMath(t *testing.T) {
	svc := NewSeeded(42)

	for _, d := range []Difficulty{Easy, Medium, Hard} {
		for i := 0; i < 200; i++ {
			c := svc.Generate(d)

			if c.Type != TypeMath {
				t.Fatalf("%s: expected math challenge, got %s", d, c.Type)
			}
			if !strings.HasSuffix(c.Prompt, "= ?") {
				t.Fatalf("%s: unexpected prompt format: %q", d, c.Prompt)
			}
			if c.Answer < 0 {
				t.Fatalf("%s: negative answer %d for prompt %q", d, c.Answer, c.Prompt)
			}
			if strings.Contains(c.Prompt, "×") && c.Answer > 144 {
				t.Fatalf("%s: product too large: %q = %d", d, c.Prompt, c.Answer)
			}
		}
	}
}

func TestGenerateExtreme(t *testing.T) {
	svc := NewSeeded(7)

	for i := 0; i < 50; i++ {
		c := svc.Generate(Extreme)

		if c.Type != TypeTyping {
			t.Fatalf("expected typing challenge, got %s", c.Type)
		}
		if c.AnswerText == "" {
			t.Fatal("typing challenge has empty answer")
		}
		// The answer must be the reverse of some known phrase.
		if c.AnswerText != reverse(reverse(c.AnswerText)) {
			t.Fatalf("reverse not involutive for %q", c.AnswerText)
		}
		found := false
		for _, phrase := range typingPhrases {
			if reverse(phrase) == c.AnswerText {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("answer %q does not match any phrase", c.AnswerText)
		}
	}
}

func TestGenerateDeterministicWithSeed(t *testing.T) {
	a := NewSeeded(99)
	b := NewSeeded(99)

	for i := 0; i < 20; i++ {
		ca := a.Generate(Easy)
		cb := b.Generate(Easy)
		if ca.Prompt != cb.Prompt || ca.Answer != cb.Answer {
			t.Fatalf("same seed diverged: %q vs %q", ca.Prompt, cb.Prompt)
		}
	}
}

func TestValidateMath(t *testing.T) {
	c := Challenge{Type: TypeMath, Prompt: "12 + 7 = ?", Answer: 19}

	tests := []struct {
		answer string
		want   bool
	}{
		{"19", true},
		{" 19 ", true},
		{"20", false},
		{"", false},
		{"nineteen", false},
		{"19.0", false},
	}
	for _, tt := range tests {
		if got := Validate(c, tt.answer); got != tt.want {
			t.Errorf("Validate(%q) = %v, want %v", tt.answer, got, tt.want)
		}
	}
}

func TestValidateTyping(t *testing.T) {
	c := Challenge{Type: TypeTyping, Prompt: `Type this backwards: "lighthouse"`, AnswerText: "esuohthgil"}

	tests := []struct {
		answer string
		want   bool
	}{
		{"esuohthgil", true},
		{"  esuohthgil ", true},
		{"ESUOHTHGIL", true},
		{"lighthouse", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := Validate(c, tt.answer); got != tt.want {
			t.Errorf("Validate(%q) = %v, want %v", tt.answer, got, tt.want)
		}
	}
}

func TestRegenerateNeverRepeatsFailedPrompt(t *testing.T) {
	svc := NewSeeded(3)

	failed := svc.Generate(Easy)
	for i := 0; i < 500; i++ {
		next := svc.Regenerate(Easy, failed.Prompt)
		if next.Prompt == failed.Prompt {
			t.Fatalf("regenerated the failed prompt %q", failed.Prompt)
		}
	}

	// Extreme draws from a small phrase set, where accidental repeats
	// would otherwise be common.
	failedTyping := svc.Generate(Extreme)
	for i := 0; i < 100; i++ {
		next := svc.Regenerate(Extreme, failedTyping.Prompt)
		if next.Prompt == failedTyping.Prompt {
			t.Fatalf("regenerated the failed prompt %q", failedTyping.Prompt)
		}
	}
}
