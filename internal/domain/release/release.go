package release

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Kind tells which manifest shape a release was parsed from.
type Kind int

const (
	// KindDynamic is a manifest describing a single artifact for the requesting client.
	KindDynamic Kind = iota + 1
	// KindStatic is a manifest listing artifacts per target.
	KindStatic
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindDynamic:
		return "dynamic"
	case KindStatic:
		return "static"
	default:
		return "unknown"
	}
}

var (
	// ErrTargetNotFound is returned when a static manifest has no entry for the target.
	ErrTargetNotFound = errors.New("target not found in release platforms")
	// errMissingField is returned when a required manifest field is absent.
	errMissingField = errors.New("missing field")
)

// PlatformUpdate describes one downloadable artifact.
type PlatformUpdate struct {
	// URL is where the artifact is downloaded from.
	URL string `json:"url"`
	// Signature is the base64 encoded signature box of the artifact.
	Signature string `json:"signature"`
	// Format selects the installer strategy.
	Format Format `json:"format"`
}

// UnmarshalJSON requires all three fields.
func (p *PlatformUpdate) UnmarshalJSON(data []byte) error {
	var wire struct {
		URL       *string `json:"url"`
		Signature *string `json:"signature"`
		Format    *Format `json:"format"`
	}

	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	switch {
	case wire.URL == nil:
		return fmt.Errorf("%w: url", errMissingField)
	case wire.Signature == nil:
		return fmt.Errorf("%w: signature", errMissingField)
	case wire.Format == nil:
		return fmt.Errorf("%w: format", errMissingField)
	}

	*p = PlatformUpdate{
		URL:       *wire.URL,
		Signature: *wire.Signature,
		Format:    *wire.Format,
	}

	return nil
}

// Data is the tagged union of the two manifest shapes.
// Exactly one of Dynamic or Static is meaningful, as selected by Kind.
type Data struct {
	Kind    Kind
	Dynamic PlatformUpdate
	Static  map[string]PlatformUpdate
}

// Resolve returns the artifact for the given target key.
// Dynamic data ignores the key: the server already answered for the requesting client.
func (d Data) Resolve(target string) (PlatformUpdate, error) {
	switch d.Kind {
	case KindDynamic:
		return d.Dynamic, nil
	case KindStatic:
		platform, ok := d.Static[target]
		if !ok {
			return PlatformUpdate{}, fmt.Errorf("%w: %s", ErrTargetNotFound, target)
		}

		return platform, nil
	default:
		return PlatformUpdate{}, fmt.Errorf("%w: release data is empty", ErrTargetNotFound)
	}
}

// RemoteRelease is the canonical form of a release manifest.
type RemoteRelease struct {
	// Version of the offered release.
	Version *semver.Version
	// Notes are optional release notes.
	Notes string
	// PubDate is the optional publication timestamp.
	PubDate *time.Time
	// Data holds the artifact(s) of the release.
	Data Data
}

// wireRelease mirrors the JSON document. Top-level dynamic fields stay raw so an
// invalid dynamic part cannot break a manifest that also carries platforms.
type wireRelease struct {
	Version   string          `json:"version"`
	Notes     *string         `json:"notes,omitempty"`
	PubDate   *string         `json:"pub_date,omitempty"`
	Platforms json.RawMessage `json:"platforms,omitempty"`
	URL       json.RawMessage `json:"url,omitempty"`
	Signature json.RawMessage `json:"signature,omitempty"`
	Format    json.RawMessage `json:"format,omitempty"`
}

// Parse validates the body against the manifest schema and decodes it.
func Parse(body []byte) (*RemoteRelease, error) {
	if err := Validate(body); err != nil {
		return nil, err
	}

	var r RemoteRelease
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, err
	}

	return &r, nil
}

// UnmarshalJSON decodes either shape. A non-null "platforms" key selects the
// static shape even when url, signature and format are also present.
func (r *RemoteRelease) UnmarshalJSON(data []byte) error {
	var wire wireRelease
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decode release: %w", err)
	}

	if wire.Version == "" {
		return fmt.Errorf("decode release: %w: version", errMissingField)
	}

	version, err := semver.NewVersion(wire.Version)
	if err != nil {
		return fmt.Errorf("decode release version %q: %w", wire.Version, err)
	}

	parsed := RemoteRelease{Version: version}

	if wire.Notes != nil {
		parsed.Notes = *wire.Notes
	}

	if wire.PubDate != nil && *wire.PubDate != "" {
		pubDate, err := time.Parse(time.RFC3339, *wire.PubDate)
		if err != nil {
			return fmt.Errorf("decode release pub_date: %w", err)
		}

		parsed.PubDate = &pubDate
	}

	if present(wire.Platforms) {
		var platforms map[string]PlatformUpdate
		if err = json.Unmarshal(wire.Platforms, &platforms); err != nil {
			return fmt.Errorf("decode release platforms: %w", err)
		}

		parsed.Data = Data{Kind: KindStatic, Static: platforms}
	} else {
		dynamic, err := decodeDynamic(&wire)
		if err != nil {
			return fmt.Errorf("decode release: %w", err)
		}

		parsed.Data = Data{Kind: KindDynamic, Dynamic: dynamic}
	}

	*r = parsed

	return nil
}

// MarshalJSON writes the release in the shape recorded in Data.Kind.
func (r RemoteRelease) MarshalJSON() ([]byte, error) {
	type staticWire struct {
		Version   string                    `json:"version"`
		Notes     string                    `json:"notes,omitempty"`
		PubDate   string                    `json:"pub_date,omitempty"`
		Platforms map[string]PlatformUpdate `json:"platforms"`
	}

	type dynamicWire struct {
		Version string `json:"version"`
		Notes   string `json:"notes,omitempty"`
		PubDate string `json:"pub_date,omitempty"`
		PlatformUpdate
	}

	if r.Version == nil {
		return nil, fmt.Errorf("encode release: %w: version", errMissingField)
	}

	var pubDate string
	if r.PubDate != nil {
		pubDate = r.PubDate.UTC().Format(time.RFC3339)
	}

	switch r.Data.Kind {
	case KindStatic:
		return json.Marshal(staticWire{
			Version:   r.Version.String(),
			Notes:     r.Notes,
			PubDate:   pubDate,
			Platforms: r.Data.Static,
		})
	case KindDynamic:
		return json.Marshal(dynamicWire{
			Version:        r.Version.String(),
			Notes:          r.Notes,
			PubDate:        pubDate,
			PlatformUpdate: r.Data.Dynamic,
		})
	default:
		return nil, fmt.Errorf("encode release: unknown data kind %d", r.Data.Kind)
	}
}

func decodeDynamic(wire *wireRelease) (PlatformUpdate, error) {
	var update PlatformUpdate

	fields := []struct {
		name string
		raw  json.RawMessage
		dst  any
	}{
		{"url", wire.URL, &update.URL},
		{"signature", wire.Signature, &update.Signature},
		{"format", wire.Format, &update.Format},
	}

	for _, field := range fields {
		if !present(field.raw) {
			return PlatformUpdate{}, fmt.Errorf("%w: %s", errMissingField, field.name)
		}

		if err := json.Unmarshal(field.raw, field.dst); err != nil {
			return PlatformUpdate{}, fmt.Errorf("%s: %w", field.name, err)
		}
	}

	return update, nil
}

// present reports whether a raw JSON value exists and is not null.
func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
