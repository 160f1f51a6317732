package triage

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"infomary-backend/internal/llm"
	"infomary-backend/internal/models"
)

var (
	// Deterministic settings for the bookkeeping calls.
	classifyParams = llm.Params{Temperature: 0, MaxTokens: 500}
	generateParams = llm.Params{Temperature: 0, MaxTokens: 3000}
	validateParams = llm.Params{Temperature: 0, MaxTokens: 3000}
	adviceParams   = llm.Params{Temperature: 0, MaxTokens: 500}

	ordinalPrefix = regexp.MustCompile(`^\d+\.\s+`)

	errEmptyAdvice = errors.New("model returned empty advice")
)

func userPrompt(content string) []llm.Message {
	return []llm.Message{{Role: llm.RoleUser, Content: content}}
}

// Classifier labels a message with one of the fixed request categories.
type Classifier struct {
	llm llm.Client
}

func NewClassifier(client llm.Client) *Classifier {
	return &Classifier{llm: client}
}

// Classify returns the trimmed label, or DefaultCategory when the call fails.
// The label is not checked against the category set.
func (c *Classifier) Classify(ctx context.Context, message string) models.Category {
	label, err := c.classify(ctx, message)
	return softFail(opClassify, label, err, DefaultCategory)
}

func (c *Classifier) classify(ctx context.Context, message string) (models.Category, error) {
	text, err := c.llm.Complete(ctx, userPrompt(classifyPrompt(message)), classifyParams)
	if err != nil {
		return "", err
	}
	return models.Category(strings.TrimSpace(text)), nil
}

// Generator produces candidate follow-up questions.
type Generator struct {
	llm llm.Client
}

func NewGenerator(client llm.Client) *Generator {
	return &Generator{llm: client}
}

func (g *Generator) Generate(ctx context.Context, history []models.Turn, retrieved string) []string {
	questions, err := g.generate(ctx, history, retrieved)
	return softFail(opGenerate, questions, err, []string{})
}

func (g *Generator) generate(ctx context.Context, history []models.Turn, retrieved string) ([]string, error) {
	text, err := g.llm.Complete(ctx, userPrompt(generatePrompt(history, retrieved)), generateParams)
	if err != nil {
		return nil, err
	}
	return parseQuestions(text), nil
}

// parseQuestions splits a model reply into one question per non-empty line,
// dropping any "N. " ordinal prefix.
func parseQuestions(text string) []string {
	questions := []string{}
	for _, line := range strings.Split(text, "\n") {
		q := strings.TrimSpace(ordinalPrefix.ReplaceAllString(strings.TrimSpace(line), ""))
		if q != "" {
			questions = append(questions, q)
		}
	}
	return questions
}

// Validator decides whether a candidate question is worth asking.
type Validator struct {
	llm llm.Client
}

func NewValidator(client llm.Client) *Validator {
	return &Validator{llm: client}
}

func (v *Validator) Validate(ctx context.Context, history []models.Turn, question string) bool {
	ok, err := v.validate(ctx, history, question)
	return softFail(opValidate, ok, err, false)
}

func (v *Validator) validate(ctx context.Context, history []models.Turn, question string) (bool, error) {
	text, err := v.llm.Complete(ctx, userPrompt(validatePrompt(history, question)), validateParams)
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(text), "yes"), nil
}

// Advisor condenses a finished triage round into summary advice.
type Advisor struct {
	llm llm.Client
}

func NewAdvisor(client llm.Client) *Advisor {
	return &Advisor{llm: client}
}

func (a *Advisor) Synthesize(ctx context.Context, history []models.Turn, retrieved string) string {
	advice, err := a.synthesize(ctx, history, retrieved)
	return softFail(opAdvise, advice, err, AdviceUnavailable)
}

func (a *Advisor) synthesize(ctx context.Context, history []models.Turn, retrieved string) (string, error) {
	text, err := a.llm.Complete(ctx, userPrompt(advicePrompt(history, retrieved)), adviceParams)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", errEmptyAdvice
	}
	return text, nil
}
