package queue

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glyphic-ai/enrichment-engine/internal/extract"
)

func TestMessageEncodeDecode(t *testing.T) {
	msg := &QueueMessage{
		JobID:               uuid.New(),
		CleansedDataStoreID: uuid.New(),
		SourcePath:          "/en_US/hero",
		OriginalFieldName:   "copy",
		CleansedContent:     "Hello world",
		Model:               "hero-section",
		Context: MessageContext{
			Envelope: extract.Envelope{
				SourcePath:  "/en_US/hero",
				UsagePath:   "/en_US/hero",
				Locale:      "en_US",
				SectionName: "hero",
			},
			Facets: extract.Facets{"sectionModel": "hero-section"},
		},
		TotalItems: 3,
	}

	data, err := msg.Encode()
	require.NoError(t, err)

	decoded, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, msg.JobID, decoded.JobID)
	assert.Equal(t, msg.CleansedDataStoreID, decoded.CleansedDataStoreID)
	assert.Equal(t, "Hello world", decoded.CleansedContent)
	assert.Equal(t, "hero", decoded.Context.Envelope.SectionName)
	assert.Equal(t, "hero-section", decoded.Context.Facets["sectionModel"])
	assert.Equal(t, 3, decoded.TotalItems)
}

func TestDecodeMessageMalformed(t *testing.T) {
	_, err := DecodeMessage([]byte("not json"))
	assert.Error(t, err)
}

func TestDecodeMessageMissingIDs(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"sourcePath":"/p"}`))
	assert.Error(t, err)
}
