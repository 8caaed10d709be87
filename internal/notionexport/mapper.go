package notionexport

import (
	"time"

	bq "github.com/dvloznov/doc-analyzer/internal/bigquery"
	"github.com/jomei/notionapi"
)

// Property names of the export database.
const (
	PropDescription   = "Description"
	PropDate          = "Date"
	PropAmount        = "Amount"
	PropType          = "Type"
	PropCategory      = "Category"
	PropAnalysisID    = "Analysis ID"
	PropTransactionID = "Transaction ID"
	PropSourceFile    = "Source File"
)

// TransactionToNotionProperties converts a stored transaction to Notion properties.
// fileName may be empty.
func TransactionToNotionProperties(tx *bq.AnalysisTransactionRow, fileName string) notionapi.Properties {
	props := notionapi.Properties{
		PropDescription: notionapi.TitleProperty{
			Title: richText(tx.Description),
		},
		PropAnalysisID: notionapi.RichTextProperty{
			RichText: richText(tx.AnalysisID),
		},
		PropTransactionID: notionapi.RichTextProperty{
			RichText: richText(tx.TransactionID),
		},
	}

	if tx.TransactionDate.IsValid() {
		d := notionapi.Date(time.Date(
			tx.TransactionDate.Year,
			tx.TransactionDate.Month,
			tx.TransactionDate.Day,
			0, 0, 0, 0, time.UTC,
		))
		props[PropDate] = notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &d},
		}
	}

	if tx.Amount != nil {
		amount, _ := tx.Amount.Float64()
		props[PropAmount] = notionapi.NumberProperty{Number: amount}
	}

	if tx.Type != "" {
		props[PropType] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: tx.Type},
		}
	}

	if tx.Category != "" {
		props[PropCategory] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: tx.Category},
		}
	}

	if fileName != "" {
		props[PropSourceFile] = notionapi.RichTextProperty{
			RichText: richText(fileName),
		}
	}

	return props
}

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{
				Content: content,
			},
		},
	}
}

// extractRichText returns the plain text of a rich-text property, or "".
func extractRichText(page notionapi.Page, name string) string {
	prop, ok := page.Properties[name]
	if !ok {
		return ""
	}
	switch p := prop.(type) {
	case *notionapi.RichTextProperty:
		if len(p.RichText) > 0 {
			return p.RichText[0].PlainText
		}
	case notionapi.RichTextProperty:
		if len(p.RichText) > 0 {
			return p.RichText[0].PlainText
		}
	}
	return ""
}
