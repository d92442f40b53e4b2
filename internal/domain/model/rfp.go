package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RFPMeta is the slice of RFP metadata the orchestrator consumes.
type RFPMeta struct {
	ID       string    `json:"rfp_id"`
	Title    string    `json:"title,omitempty"`
	Deadline time.Time `json:"deadline"`
}

// BidDocument is a generated bid document: its id plus the validated payload
// handed to portal adapters.
type BidDocument struct {
	ID      string         `json:"document_id"`
	Content map[string]any `json:"content"`
}

// Present reports whether key exists in the payload, whatever its value.
func (d BidDocument) Present(key string) bool {
	_, ok := d.Content[key]
	return ok
}

// Has reports whether key is present with a non-empty value.
func (d BidDocument) Has(key string) bool {
	v, ok := d.Content[key]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// String returns the value at key formatted as a string ("" if absent).
func (d BidDocument) String(key string) string {
	v, ok := d.Content[key]
	if !ok || v == nil {
		return ""
	}
	if s, isString := v.(string); isString {
		return s
	}
	return fmt.Sprint(v)
}

// Int64 returns the numeric value at key. JSON numbers decode as float64 and
// CLI input may arrive as strings, so both are accepted.
func (d BidDocument) Int64(key string) (int64, bool) {
	switch v := d.Content[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	}
	return 0, false
}
