package ingestion

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseHTML(t *testing.T, html string) *goquery.Document {
	t.Helper()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestSplitSectionsByHeadings(t *testing.T) {
	p := NewProcessor(nil, nil, nil)

	doc := parseHTML(t, `
		<html><head><title>Leave Policy</title></head><body>
		<p>This document describes leave entitlements.</p>
		<h2>Annual Leave</h2>
		<p>Employees receive 20 days of annual leave.</p>
		<h2>Sick Leave</h2>
		<p>Sick leave requires a doctor's note after three days.</p>
		</body></html>`)

	sections := p.splitSections(doc, "Leave Policy")

	require.Len(t, sections, 3)
	assert.Equal(t, "Leave Policy", sections[0].title)
	assert.Contains(t, sections[0].text, "describes leave entitlements")
	assert.Equal(t, "Annual Leave", sections[1].title)
	assert.Contains(t, sections[1].text, "20 days")
	assert.Equal(t, "Sick Leave", sections[2].title)
	assert.Contains(t, sections[2].text, "doctor's note")
}

func TestSplitSectionsNoHeadings(t *testing.T) {
	p := NewProcessor(nil, nil, nil)

	doc := parseHTML(t, `<html><body><p>One paragraph, no structure.</p></body></html>`)

	sections := p.splitSections(doc, "Flat Document")

	require.Len(t, sections, 1)
	assert.Equal(t, "Flat Document", sections[0].title)
	assert.Equal(t, "One paragraph, no structure.", sections[0].text)
}

func TestSplitSectionsEmptyBody(t *testing.T) {
	p := NewProcessor(nil, nil, nil)

	doc := parseHTML(t, `<html><body></body></html>`)

	assert.Empty(t, p.splitSections(doc, "Empty"))
}

func TestExtractTitleFallbacks(t *testing.T) {
	p := NewProcessor(nil, nil, nil)

	withTitle := parseHTML(t, `<html><head><title>Travel Policy</title></head><body><h1>Other</h1></body></html>`)
	assert.Equal(t, "Travel Policy", p.extractTitle(withTitle))

	withH1 := parseHTML(t, `<html><body><h1>Expense Policy</h1></body></html>`)
	assert.Equal(t, "Expense Policy", p.extractTitle(withH1))

	bare := parseHTML(t, `<html><body><p>text</p></body></html>`)
	assert.Equal(t, "Untitled", p.extractTitle(bare))
}

func TestChunkSectionPacksWholeSentences(t *testing.T) {
	p := NewProcessor(nil, nil, nil)
	p.chunkMaxChars = 80

	text := "Employees receive twenty days of leave. Carry-over is capped at five days. " +
		"Requests go through the manager. Approval takes two business days."

	chunks := p.chunkSection(text)

	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		// Chunks never cut a sentence: each one ends where a sentence ends.
		assert.True(t, strings.HasSuffix(chunk, "."), "chunk %q", chunk)
	}

	rejoined := strings.Join(chunks, " ")
	assert.Equal(t, text, rejoined)
}

func TestChunkSectionOversizedSentence(t *testing.T) {
	p := NewProcessor(nil, nil, nil)
	p.chunkMaxChars = 30

	long := "This single sentence is far longer than the configured chunk budget allows."

	chunks := p.chunkSection(long)

	require.Len(t, chunks, 1)
	assert.Equal(t, long, chunks[0])
}

func TestChunkSectionEmptyText(t *testing.T) {
	p := NewProcessor(nil, nil, nil)

	assert.Empty(t, p.chunkSection("   "))
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "a b c", normalizeText("  a\n\tb   c  "))
	assert.Equal(t, "", normalizeText(" \n\t "))
}
