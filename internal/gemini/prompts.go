package gemini

import (
	"strings"

	"github.com/dvloznov/finance-advisor/internal/domain"
)

const extractionPrompt = "You are a document text extractor.\n\n" +
	"Task:\n" +
	"- Transcribe ALL text in the attached PDF, page by page, in reading order.\n" +
	"- Keep table rows on one line with cells separated by spaces.\n" +
	"- Do not summarize, translate, or add commentary.\n" +
	"- If the document has no readable text, return an empty response.\n"

func structuringPrompt() string {
	var b strings.Builder
	b.WriteString("You are a specialized data extraction assistant.\n")
	b.WriteString("Extract financial transactions from the raw text the user provides.\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Standardize dates to YYYY-MM-DD.\n")
	b.WriteString("- \"merchant\" is the counterparty name as printed, without reference numbers.\n")
	b.WriteString("- \"amount\" is a number; keep the sign shown in the document.\n")
	b.WriteString("- \"currency\" is an ISO 4217 code; use \"" + domain.DefaultCurrency + "\" when none is shown.\n")
	b.WriteString("- Infer the category for each transaction from the merchant name. Use one of: ")
	b.WriteString(strings.Join(domain.Categories, ", "))
	b.WriteString(".\n")
	b.WriteString("- Do not leave category empty.\n")
	b.WriteString("- \"summary\" is one or two sentences describing the document.\n\n")
	b.WriteString("Return ONLY valid raw JSON matching the response schema.\n")
	b.WriteString("Do NOT wrap the response in code fences.\n")
	return b.String()
}
