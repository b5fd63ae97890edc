package ai

import (
	"context"
	"fmt"

	"craftfolio/internal/resume"
)

// EnhanceKind selects the rewrite instruction for a text enhancement call.
type EnhanceKind string

const (
	// KindProfessionalSummary rewrites the summary paragraph at the top of a resume.
	KindProfessionalSummary EnhanceKind = "professional_summary"
	// KindJobDescription rewrites the description of a single experience entry.
	KindJobDescription EnhanceKind = "job_description"
)

// Enhancer rewrites one free-text resume field. The returned text is passed to
// the caller verbatim; the proxy never post-processes it.
type Enhancer interface {
	Enhance(ctx context.Context, kind EnhanceKind, text string) (string, error)
}

// Extractor turns raw extracted resume text into a structured document.
type Extractor interface {
	Extract(ctx context.Context, rawText string) (*resume.Content, error)
}

func enhanceSystemPrompt(kind EnhanceKind) string {
	switch kind {
	case KindJobDescription:
		return "You are a professional resume writer. Improve the given job experience description: " +
			"make it concise, achievement-oriented, and ATS-friendly. Use bullet-style sentences with strong action verbs. " +
			"Return only the improved text, no preamble and no markdown."
	default:
		return "You are a professional resume writer. Improve the given professional summary: " +
			"make it concise, confident, and tailored to the person's profession. Keep it to 3-4 sentences. " +
			"Return only the improved text, no preamble and no markdown."
	}
}

func extractSystemPrompt() string {
	return `You are a resume parser. I will give you the raw text extracted from a resume PDF.

Task:
1. Extract the content into a JSON object with exactly these keys:
   "personal_info" (object: full_name, profession, email, phone, location, website, linkedin),
   "professional_summary" (string),
   "experience" (array of {company, position, start_date, end_date, is_current, description}),
   "education" (array of {institution, degree, field, graduation_date, gpa}),
   "project" (array of {name, type, description, is_active}),
   "skills" (array of strings).
2. Use empty strings or empty arrays for anything missing. Dates as written in the text.
3. Return ONLY the raw JSON object. Do NOT wrap it in markdown fences. Output starts with { and ends with }.`
}

func extractUserPrompt(rawText string) string {
	return fmt.Sprintf("Resume text:\n%s", rawText)
}
