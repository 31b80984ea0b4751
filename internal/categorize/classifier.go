package categorize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"google.golang.org/genai"
)

// DefaultModelName is the default Gemini model used for classification.
const DefaultModelName = "gemini-2.5-flash"

// BatchItem is one transaction handed to the classifier.
type BatchItem struct {
	Payee       string
	AmountMinor int64
	Date        civil.Date
	Notes       string
}

// Classifier assigns a category name to each item of a batch. The
// returned slice is index-aligned with items; names outside allowed are
// resolved by the caller's fallback chain.
type Classifier interface {
	Classify(ctx context.Context, items []BatchItem, allowed []string) ([]string, error)
}

// GeminiClassifier classifies transaction batches with a Gemini model.
// The category vocabulary is passed explicitly per call.
type GeminiClassifier struct {
	model string
}

// NewGeminiClassifier creates a classifier for the given model name;
// empty means DefaultModelName.
func NewGeminiClassifier(model string) *GeminiClassifier {
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiClassifier{model: model}
}

// Classify sends one batch to the model and returns one category name
// per item, in input order.
func (g *GeminiClassifier) Classify(ctx context.Context, items []BatchItem, allowed []string) ([]string, error) {
	if len(items) == 0 {
		return nil, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("Classify: create genai client: %w", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: buildPrompt(items, allowed)},
			},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("Classify: generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, fmt.Errorf("Classify: empty response from model")
	}

	var names []string
	if err := json.Unmarshal([]byte(cleanModelJSON(rawText)), &names); err != nil {
		return nil, fmt.Errorf("Classify: unmarshal JSON: %w\nraw response: %s", err, rawText)
	}
	if len(names) != len(items) {
		return nil, fmt.Errorf("Classify: model returned %d categories for %d transactions", len(names), len(items))
	}
	return names, nil
}

func buildPrompt(items []BatchItem, allowed []string) string {
	var b strings.Builder
	b.WriteString("You are a personal finance transaction classifier.\n\n")
	b.WriteString("Task:\n")
	b.WriteString("- Assign exactly one spending category to each transaction below.\n")
	b.WriteString("- Use ONLY categories from the allowed list. Never invent a category.\n")
	b.WriteString("- Output STRICT JSON only: a JSON array of category name strings,\n")
	b.WriteString("  one per transaction, in the same order as the input.\n")
	b.WriteString("- Do NOT wrap the response in code fences or Markdown.\n")
	b.WriteString("- Output must begin with \"[\" and end with \"]\".\n\n")

	b.WriteString("Allowed categories:\n")
	for _, name := range allowed {
		b.WriteString("- ")
		b.WriteString(name)
		b.WriteString("\n")
	}

	b.WriteString("\nTransactions:\n")
	for i, item := range items {
		amount := decimal.New(item.AmountMinor, -2)
		fmt.Fprintf(&b, "%d. payee: %q, amount: %s, date: %s", i+1, item.Payee, amount.String(), item.Date.String())
		if item.Notes != "" {
			fmt.Fprintf(&b, ", notes: %q", item.Notes)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// cleanModelJSON strips Markdown fences and surrounding junk when the
// model ignores the strict-JSON instruction.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
