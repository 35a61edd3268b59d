package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPlainText(t *testing.T) {
	svc := NewTextExtractionService(testLogger())
	content := strings.Repeat("The operating system schedules processes. ", 5)

	text, err := svc.Extract(strings.NewReader("  "+content+"  "), "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(content), text)
}

func TestExtractMarkdown(t *testing.T) {
	svc := NewTextExtractionService(testLogger())
	content := "# Scheduling\n\n" + strings.Repeat("Round robin rotates the ready queue. ", 5)

	_, err := svc.Extract(strings.NewReader(content), "NOTES.MD")
	assert.NoError(t, err)
}

func TestExtractUnsupportedFormat(t *testing.T) {
	svc := NewTextExtractionService(testLogger())

	_, err := svc.Extract(strings.NewReader("irrelevant"), "slides.pdf")
	assert.ErrorIs(t, err, ErrUnsupportedFileFormat)
}

func TestExtractTooShort(t *testing.T) {
	svc := NewTextExtractionService(testLogger())

	_, err := svc.Extract(strings.NewReader("too little material"), "notes.txt")
	assert.ErrorIs(t, err, ErrSourceTextTooShort)
}
