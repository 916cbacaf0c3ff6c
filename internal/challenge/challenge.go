// Package challenge generates and validates the sobriety challenges that
// gate early deactivation of a protection session.
//
// The service is stateless: every challenge is generated fresh, and a
// failed challenge is discarded rather than retried, so a user can never
// answer the same prompt twice.
package challenge

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
)

// Difficulty selects how hard a challenge is.
type Difficulty string

const (
	Easy    Difficulty = "easy"
	Medium  Difficulty = "medium"
	Hard    Difficulty = "hard"
	Extreme Difficulty = "extreme"
)

// Valid reports whether d is a known difficulty.
func (d Difficulty) Valid() bool {
	switch d {
	case Easy, Medium, Hard, Extreme:
		return true
	}
	return false
}

// MaxAttempts returns how many consecutive failures are allowed before
// the deactivation flow halts.
func (d Difficulty) MaxAttempts() int {
	if d == Extreme {
		return 2
	}
	return 3
}

// Type distinguishes challenge kinds.
type Type string

const (
	// TypeMath is an arithmetic challenge answered with an integer.
	TypeMath Type = "math"
	// TypeTyping is a reversed-typing challenge answered with a string.
	TypeTyping Type = "typing"
)

// Challenge is a single verification prompt with its expected answer.
type Challenge struct {
	Type       Type
	Difficulty Difficulty
	Prompt     string
	// Answer holds the expected integer result for math challenges.
	Answer int
	// AnswerText holds the expected reversed string for typing challenges.
	AnswerText string
}

// Phrases used for extreme (reversed-typing) challenges.
var typingPhrases = []string{
	"protection",
	"accountability",
	"lighthouse",
	"perseverance",
	"clearheaded",
	"tomorrow morning",
	"future self",
	"stay the course",
}

// Service generates challenges. Safe for concurrent use.
type Service struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewService creates a Service seeded from the system source.
func NewService() *Service {
	return &Service{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeeded creates a Service with a deterministic seed for tests.
func NewSeeded(seed uint64) *Service {
	return &Service{rng: rand.New(rand.NewPCG(seed, seed))}
}

// Generate produces a fresh challenge at the given difficulty.
func (s *Service) Generate(d Difficulty) Challenge {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d == Extreme {
		phrase := typingPhrases[s.rng.IntN(len(typingPhrases))]
		return Challenge{
			Type:       TypeTyping,
			Difficulty: d,
			Prompt:     fmt.Sprintf("Type this backwards: %q", phrase),
			AnswerText: reverse(phrase),
		}
	}
	return s.generateMath(d)
}

// operandRange returns the half-open upper bound for operands at each
// math difficulty.
func operandRange(d Difficulty) int {
	switch d {
	case Easy:
		return 20
	case Medium:
		return 100
	default: // Hard
		return 500
	}
}

func (s *Service) generateMath(d Difficulty) Challenge {
	bound := operandRange(d)
	a := s.rng.IntN(bound) + 1
	b := s.rng.IntN(bound) + 1

	var op string
	var answer int
	switch s.rng.IntN(3) {
	case 0:
		op = "+"
		answer = a + b
	case 1:
		// Order operands so the result is non-negative.
		if b > a {
			a, b = b, a
		}
		op = "-"
		answer = a - b
	default:
		// Reduce operands so products stay tractable.
		a = a%12 + 1
		b = b%12 + 1
		op = "×"
		answer = a * b
	}

	return Challenge{
		Type:       TypeMath,
		Difficulty: d,
		Prompt:     fmt.Sprintf("%d %s %d = ?", a, op, b),
		Answer:     answer,
	}
}

// Regenerate produces a replacement challenge at the same difficulty,
// guaranteed not to repeat the prompt the user just failed.
func (s *Service) Regenerate(d Difficulty, failedPrompt string) Challenge {
	for {
		c := s.Generate(d)
		if c.Prompt != failedPrompt {
			return c
		}
	}
}

// Validate checks a user answer against the challenge. Math answers are
// parsed as integers after trimming; typing answers are compared
// case-insensitively after trimming.
func Validate(c Challenge, userAnswer string) bool {
	answer := strings.TrimSpace(userAnswer)

	switch c.Type {
	case TypeMath:
		n, err := strconv.Atoi(answer)
		if err != nil {
			return false
		}
		return n == c.Answer
	case TypeTyping:
		return strings.EqualFold(answer, c.AnswerText)
	default:
		return false
	}
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}
