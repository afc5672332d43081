// Package queue provides the durable enrichment work queue.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/glyphic-ai/enrichment-engine/internal/extract"
)

// MessageContext carries the item's envelope, facets, and type to the worker.
type MessageContext struct {
	Envelope extract.Envelope `json:"envelope"`
	Facets   extract.Facets   `json:"facets,omitempty"`
	ItemType string           `json:"itemType,omitempty"`
}

// QueueMessage is the transport object for one enrichment work item.
type QueueMessage struct {
	JobID               uuid.UUID      `json:"jobId"`
	CleansedDataStoreID uuid.UUID      `json:"cleansedDataStoreId"`
	SourcePath          string         `json:"sourcePath"`
	OriginalFieldName   string         `json:"originalFieldName"`
	CleansedContent     string         `json:"cleansedContent"`
	Model               string         `json:"model,omitempty"`
	Context             MessageContext `json:"context"`
	TotalItems          int            `json:"totalItems"`
}

// Encode serializes the message as UTF-8 JSON.
func (m *QueueMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode queue message: %w", err)
	}
	return data, nil
}

// DecodeMessage deserializes a queue payload.
func DecodeMessage(data []byte) (*QueueMessage, error) {
	var m QueueMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode queue message: %w", err)
	}
	if m.JobID == uuid.Nil || m.CleansedDataStoreID == uuid.Nil {
		return nil, fmt.Errorf("decode queue message: missing job or batch id")
	}
	return &m, nil
}
