// Package opgen builds op payloads in the shape collaborative editing
// clients send: a source id, a per-source sequence number, the version the
// op applies to, and one of create, op or del.
//
// The store treats payloads as opaque JSON. opgen exists for the CLI and the
// conformance scenarios, which need realistic payloads without a client.
package opgen

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// SourceGenerator produces the id that identifies a writer.
type SourceGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 source ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Sequencer hands out the per-source sequence numbers.
type Sequencer interface {
	Next() int64
}

// Clock is a monotonic sequence starting after 0.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// Next returns the next sequence number. The first call returns 1.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last sequence number handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// Payload is the JSON body of one op. Exactly one of Create, Op and Del is
// set.
type Payload struct {
	Src    string          `json:"src"`
	Seq    int64           `json:"seq"`
	V      int64           `json:"v"`
	Create *Create         `json:"create,omitempty"`
	Op     json.RawMessage `json:"op,omitempty"`
	Del    bool            `json:"del,omitempty"`
}

// Create carries the type and initial data of a new document.
type Create struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Builder stamps payloads with one source id and increasing sequence
// numbers.
type Builder struct {
	src string
	seq Sequencer
}

// NewBuilder draws a source id from gen. A nil seq uses a fresh Clock.
func NewBuilder(gen SourceGenerator, seq Sequencer) *Builder {
	if seq == nil {
		seq = &Clock{}
	}
	return &Builder{src: gen.Generate(), seq: seq}
}

// Source returns the builder's source id.
func (b *Builder) Source() string {
	return b.src
}

// Create builds the payload that brings a document into existence at
// version 1.
func (b *Builder) Create(docType string, data json.RawMessage) (json.RawMessage, error) {
	if docType == "" {
		return nil, errors.New("create requires a document type")
	}
	if len(data) != 0 && !json.Valid(data) {
		return nil, errors.New("create data is not valid JSON")
	}
	return b.build(1, func(p *Payload) {
		p.Create = &Create{Type: docType, Data: data}
	})
}

// Op builds the payload committed at version with the given edit
// components.
func (b *Builder) Op(version int64, components json.RawMessage) (json.RawMessage, error) {
	if len(components) == 0 || !json.Valid(components) {
		return nil, errors.New("op components must be valid JSON")
	}
	return b.build(version, func(p *Payload) {
		p.Op = components
	})
}

// Replace builds an op at version whose single component swaps the whole
// document body for data.
func (b *Builder) Replace(version int64, data json.RawMessage) (json.RawMessage, error) {
	if len(data) == 0 || !json.Valid(data) {
		return nil, errors.New("replacement data must be valid JSON")
	}
	components, err := json.Marshal([]map[string]any{
		{"p": []any{}, "oi": data},
	})
	if err != nil {
		return nil, err
	}
	return b.Op(version, components)
}

// Delete builds the payload that deletes a document at version.
func (b *Builder) Delete(version int64) (json.RawMessage, error) {
	return b.build(version, func(p *Payload) {
		p.Del = true
	})
}

// build fills the fields every payload shares. Payload.V is the version the
// op applies to, one less than the version it is committed at.
func (b *Builder) build(version int64, set func(*Payload)) (json.RawMessage, error) {
	if version < 1 {
		return nil, fmt.Errorf("version must be at least 1, got %d", version)
	}
	p := Payload{Src: b.src, Seq: b.seq.Next(), V: version - 1}
	set(&p)
	out, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return out, nil
}
