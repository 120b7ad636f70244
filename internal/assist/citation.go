package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"lexwrite/api/internal/metrics"
)

var ErrUnparseable = errors.New("Failed to parse AI response as JSON")

const citationSystemPrompt = "You are an academic research assistant that generates realistic and credible academic citations. Always respond with valid JSON only."

// CitationFormats are the styles the generator accepts.
var CitationFormats = []string{"MLA8", "Chicago", "APA", "Harvard", "MHRA", "Vancouver", "OSCOLA"}

var jsonObjectPattern = regexp.MustCompile(`\{[\s\S]*\}`)

type CitationRequest struct {
	Text                 string `json:"text"`
	Format               string `json:"format"`
	SampleSize           string `json:"sampleSize,omitempty"`
	DateRange            string `json:"dateRange,omitempty"`
	Location             string `json:"location,omitempty"`
	AdditionalParameters string `json:"parameters,omitempty"`
}

// Citation is the structured result. Models sometimes emit numbers where
// strings are expected, so every field tolerates any JSON scalar.
type Citation struct {
	StudyFindings     looseString `json:"studyFindings"`
	Citation          looseString `json:"citation"`
	BriefDescription  looseString `json:"briefDescription"`
	Location          looseString `json:"location"`
	Date              looseString `json:"date"`
	Participants      looseString `json:"participants"`
	Accessibility     looseString `json:"accessibility"`
	Link              looseString `json:"link"`
	FormattedCitation looseString `json:"formattedCitation"`
}

type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = looseString(str)
		return nil
	}
	*s = looseString(b)
	return nil
}

// CanonicalFormat matches format case-insensitively against CitationFormats.
func CanonicalFormat(format string) (string, bool) {
	format = strings.TrimSpace(format)
	for _, f := range CitationFormats {
		if strings.EqualFold(f, format) {
			return f, true
		}
	}
	return "", false
}

// BuildCitationPrompt renders the user prompt. Optional parameters appear
// only when set.
func BuildCitationPrompt(req CitationRequest) string {
	var b strings.Builder
	b.WriteString("You are an academic research assistant. Generate a realistic academic citation based on the following request:\n\n")
	b.WriteString("Topic: " + req.Text + "\n")
	b.WriteString("Citation Format: " + req.Format)
	if req.SampleSize != "" {
		b.WriteString("\nSample Size: " + req.SampleSize)
	}
	if req.DateRange != "" {
		b.WriteString("\nDate Range: " + req.DateRange)
	}
	if req.Location != "" {
		b.WriteString("\nLocation: " + req.Location)
	}
	if req.AdditionalParameters != "" {
		b.WriteString("\nAdditional Parameters: " + req.AdditionalParameters)
	}
	b.WriteString(`

Provide the response as a JSON object with the following fields:
- studyFindings: A brief description of what the study found (2-3 sentences)
- citation: The author(s), year, and title of the study
- briefDescription: A one-sentence description of the study methodology
- location: Where the study was conducted
- date: Year or date range of the study
- participants: Number and type of participants
- accessibility: Where the study can be accessed (journal name, DOI, etc.)
- link: A realistic-looking DOI link or journal URL (use actual journal URLs if possible)
- formattedCitation: The complete citation in the requested `)
	b.WriteString(req.Format)
	b.WriteString(` format with proper HTML formatting (use <i> for italics, <b> for bold)

Ensure the citation is realistic, academically credible, and follows `)
	b.WriteString(req.Format)
	b.WriteString(" formatting guidelines precisely.")
	return b.String()
}

// ParseCitation decodes the model output strictly first, then retries on the
// outermost {...} span when the model wrapped the JSON in prose or fences.
func ParseCitation(raw string) (Citation, error) {
	var c Citation
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		match := jsonObjectPattern.FindString(raw)
		if match == "" {
			return Citation{}, ErrUnparseable
		}
		c = Citation{}
		if err := json.Unmarshal([]byte(match), &c); err != nil {
			return Citation{}, ErrUnparseable
		}
	}
	if strings.TrimSpace(string(c.FormattedCitation)) == "" {
		return Citation{}, ErrUnparseable
	}
	return c, nil
}

func (s *Service) Citation(ctx context.Context, req CitationRequest) (Citation, error) {
	if !s.configured {
		return Citation{}, ErrNotConfigured
	}
	if strings.TrimSpace(req.Text) == "" || strings.TrimSpace(req.Format) == "" {
		metrics.AssistRequestsTotal.WithLabelValues("citation", "invalid").Inc()
		return Citation{}, invalid("Missing required fields: text and format")
	}
	format, ok := CanonicalFormat(req.Format)
	if !ok {
		metrics.AssistRequestsTotal.WithLabelValues("citation", "invalid").Inc()
		return Citation{}, invalid("Unsupported citation format: %s", req.Format)
	}
	req.Format = format

	raw, err := s.complete(ctx, "citation", Completion{
		Model:       s.citationModel,
		System:      citationSystemPrompt,
		Prompt:      BuildCitationPrompt(req),
		Temperature: 0.7,
		MaxTokens:   1000,
	})
	if err != nil {
		return Citation{}, err
	}
	c, err := ParseCitation(raw)
	if err != nil {
		s.logger.Warn("citation response not parseable")
		return Citation{}, err
	}
	return c, nil
}
