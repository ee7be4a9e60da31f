package schema

import (
	"bytes"
	"context"
	"crypto/sha256"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	js "github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var builtin embed.FS

// Built-in schema names.
const (
	Envelope = "envelope"
	Document = "document"
)

type Compiler struct {
	compiler *js.Compiler
	cache    *expirable.LRU[string, *js.Schema]
}

// NewCompilerWithCache creates a new compiler with cache
func NewCompilerWithCache(maxSize int) *Compiler {
	c := js.NewCompiler()
	c.Draft = js.Draft7
	c.ExtractAnnotations = true

	return &Compiler{
		compiler: c,
		cache:    expirable.NewLRU[string, *js.Schema](maxSize, nil, time.Hour),
	}
}

func (c *Compiler) key(schema map[string]interface{}) string {
	b, _ := json.Marshal(schema)
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum[:8])
}

// Prepare compiles and caches an ad-hoc schema
func (c *Compiler) Prepare(ctx context.Context, schema map[string]interface{}) error {
	_, err := c.prepare(schema)
	return err
}

func (c *Compiler) prepare(schema map[string]interface{}) (*js.Schema, error) {
	key := c.key(schema)
	if compiled, ok := c.cache.Get(key); ok {
		return compiled, nil
	}

	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return c.compile("mem://schema/"+key+".json", key, schemaBytes)
}

func (c *Compiler) compile(resourceURL, key string, schemaBytes []byte) (*js.Schema, error) {
	if err := c.compiler.AddResource(resourceURL, bytes.NewReader(schemaBytes)); err != nil {
		return nil, fmt.Errorf("failed to add resource: %w", err)
	}

	compiled, err := c.compiler.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	c.cache.Add(key, compiled)
	return compiled, nil
}

// named returns one of the embedded schemas, compiling it on first use.
func (c *Compiler) named(name string) (*js.Schema, error) {
	key := "builtin:" + name
	if compiled, ok := c.cache.Get(key); ok {
		return compiled, nil
	}

	schemaBytes, err := builtin.ReadFile("schemas/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("unknown schema %q: %w", name, err)
	}
	return c.compile("mem://builtin/"+name+".json", key, schemaBytes)
}

// Validate validates a value against an ad-hoc schema
func (c *Compiler) Validate(ctx context.Context, schema map[string]interface{}, value map[string]interface{}) error {
	compiled, err := c.prepare(schema)
	if err != nil {
		return err
	}

	// Round-trip through JSON so numbers are float64 as the validator expects
	valueBytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return validateRaw(compiled, valueBytes)
}

// ValidateNamed validates raw JSON against a built-in schema
func (c *Compiler) ValidateNamed(ctx context.Context, name string, raw []byte) error {
	compiled, err := c.named(name)
	if err != nil {
		return err
	}
	return validateRaw(compiled, raw)
}

// ValidateDocument checks a persisted configuration document.
func (c *Compiler) ValidateDocument(ctx context.Context, raw []byte) error {
	return c.ValidateNamed(ctx, Document, raw)
}

// ValidateEnvelope checks a UI envelope before it reaches the bridge.
func (c *Compiler) ValidateEnvelope(ctx context.Context, raw []byte) error {
	return c.ValidateNamed(ctx, Envelope, raw)
}

func validateRaw(compiled *js.Schema, raw []byte) error {
	var valueRaw interface{}
	if err := json.Unmarshal(raw, &valueRaw); err != nil {
		return fmt.Errorf("failed to unmarshal value: %w", err)
	}

	if err := compiled.Validate(valueRaw); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}
