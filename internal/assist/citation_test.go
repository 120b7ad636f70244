package assist

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCitation = `{"studyFindings":"Sleep improves recall.","citation":"Doe, J. (2020). Sleep and memory.","briefDescription":"A randomized trial.","location":"Boston, USA","date":2020,"participants":"120 undergraduates","accessibility":"Journal of Sleep Research","link":"https://doi.org/10.1000/jsr.2020.1","formattedCitation":"Doe, J. (2020). <i>Sleep and memory</i>."}`

func TestParseCitationStrict(t *testing.T) {
	c, err := ParseCitation(sampleCitation)
	require.NoError(t, err)
	assert.Equal(t, "Doe, J. (2020). <i>Sleep and memory</i>.", string(c.FormattedCitation))
	assert.Equal(t, "2020", string(c.Date))
}

func TestParseCitationFallsBackToEmbeddedObject(t *testing.T) {
	raw := "Here is your citation:\n```json\n" + sampleCitation + "\n```\nLet me know if you need more."
	c, err := ParseCitation(raw)
	require.NoError(t, err)
	assert.Equal(t, "Boston, USA", string(c.Location))
}

func TestParseCitationFailures(t *testing.T) {
	for _, raw := range []string{
		"no json here",
		"{not valid}",
		`{"citation":"Doe 2020"}`,
		"",
	} {
		_, err := ParseCitation(raw)
		assert.ErrorIs(t, err, ErrUnparseable, raw)
	}
}

func TestBuildCitationPromptOptionalLines(t *testing.T) {
	p := BuildCitationPrompt(CitationRequest{Text: "sleep", Format: "APA"})
	assert.True(t, strings.Contains(p, "Topic: sleep\nCitation Format: APA\n\nProvide the response"))
	assert.NotContains(t, p, "Sample Size")
	assert.Contains(t, p, "follows APA formatting guidelines precisely.")

	p = BuildCitationPrompt(CitationRequest{Text: "sleep", Format: "MLA8", SampleSize: "100", DateRange: "2010-2020", Location: "UK", AdditionalParameters: "RCT only"})
	assert.Contains(t, p, "Citation Format: MLA8\nSample Size: 100\nDate Range: 2010-2020\nLocation: UK\nAdditional Parameters: RCT only\n\n")
}

func TestCitationService(t *testing.T) {
	srv := newLLMServer(t, http.StatusOK, chatBody(sampleCitation))
	svc := newTestService(srv)

	c, err := svc.Citation(context.Background(), CitationRequest{Text: "sleep", Format: "harvard"})
	require.NoError(t, err)
	assert.Equal(t, "Doe, J. (2020). Sleep and memory.", string(c.Citation))
	assert.Equal(t, "gpt-4", srv.last.Model)
	assert.Equal(t, 1000, srv.last.MaxTokens)
	assert.Equal(t, citationSystemPrompt, srv.last.Messages[0].Content)
	assert.Contains(t, srv.last.Messages[1].Content, "Citation Format: Harvard")
}

func TestCitationValidation(t *testing.T) {
	srv := newLLMServer(t, http.StatusOK, chatBody(sampleCitation))
	svc := newTestService(srv)

	_, err := svc.Citation(context.Background(), CitationRequest{Text: "sleep"})
	require.Error(t, err)
	assert.Equal(t, "Missing required fields: text and format", err.Error())

	_, err = svc.Citation(context.Background(), CitationRequest{Text: "sleep", Format: "IEEE"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCitationUnparseableResponse(t *testing.T) {
	srv := newLLMServer(t, http.StatusOK, chatBody("I cannot help with that."))
	_, err := newTestService(srv).Citation(context.Background(), CitationRequest{Text: "sleep", Format: "APA"})
	assert.ErrorIs(t, err, ErrUnparseable)
}
