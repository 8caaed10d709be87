package pipeline

import (
	"fmt"
	"strings"
)

const truncationMarker = "[content truncated]"

// buildSystemPrompt fixes the output language and the JSON-only contract.
func buildSystemPrompt(language string) string {
	return fmt.Sprintf(
		"You are a financial analyst for small businesses. "+
			"Write every description and insight in %s. "+
			"Respond with JSON only: no Markdown, no code fences, no text before or after the JSON object.",
		language,
	)
}

// buildUserPrompt embeds the output schema, the field rules and the document
// text. truncated tells the model it only sees the beginning of the document.
func buildUserPrompt(text string, truncated bool, defaultYear int, categories []string, language string) string {
	var b strings.Builder

	b.WriteString("Extract the financial transactions from the document below and analyze them.\n\n")

	b.WriteString("Return one JSON object with exactly this shape:\n")
	b.WriteString("{\n")
	b.WriteString("  \"transactions\": [\n")
	b.WriteString("    {\"id\": string, \"date\": \"YYYY-MM-DD\", \"description\": string, \"amount\": number, \"type\": \"income\" | \"expense\", \"category\": string}\n")
	b.WriteString("  ],\n")
	b.WriteString("  \"summary\": {\"totalIncome\": number, \"totalExpense\": number, \"netProfit\": number, \"transactionCount\": number},\n")
	b.WriteString("  \"insights\": [string]\n")
	b.WriteString("}\n\n")

	b.WriteString("Rules:\n")
	fmt.Fprintf(&b, "- \"date\" must be YYYY-MM-DD. When the document gives no year, use %d.\n", defaultYear)
	b.WriteString("- \"amount\" is signed: positive for money received (income), negative for money spent (expense).\n")
	b.WriteString("- \"type\" must agree with the sign of \"amount\".\n")
	b.WriteString("- \"description\" is at most 100 characters.\n")
	if len(categories) > 0 {
		fmt.Fprintf(&b, "- \"category\" is one of: %s. Use \"%s\" when none fits.\n", strings.Join(categories, ", "), DefaultCategory)
	}
	fmt.Fprintf(&b, "- \"insights\" holds 3 to 5 short, concrete observations in %s about cash flow, large items and risks.\n", language)
	b.WriteString("- If the document contains no transactions, return an empty \"transactions\" list.\n\n")

	b.WriteString("Document:\n")
	b.WriteString("\"\"\"\n")
	b.WriteString(text)
	if truncated {
		b.WriteString("\n" + truncationMarker)
	}
	b.WriteString("\n\"\"\"\n")

	return b.String()
}

// truncatePromptText keeps the first max characters of text.
func truncatePromptText(text string, max int) (string, bool) {
	if max <= 0 {
		return text, false
	}
	r := []rune(text)
	if len(r) <= max {
		return text, false
	}
	return string(r[:max]), true
}
