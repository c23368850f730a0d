package release

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaLocation = "./release-manifest.schema.json"

// ErrInvalidManifest is returned when a manifest body does not match the manifest schema.
var ErrInvalidManifest = errors.New("invalid release manifest")

//go:embed release-manifest.schema.json
var manifestSchema []byte

//nolint:gochecknoglobals // Compiled once, read-only afterwards.
var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(manifestSchema))
	if err != nil {
		return nil, fmt.Errorf("decode manifest schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err = compiler.AddResource(schemaLocation, doc); err != nil {
		return nil, fmt.Errorf("add manifest schema: %w", err)
	}

	return compiler.Compile(schemaLocation)
})

// Validate checks a manifest body against the embedded JSON schema.
// It only checks structure; format tags and versions are checked by Parse.
func Validate(body []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	if err = schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	return nil
}
