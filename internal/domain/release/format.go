package release

import (
	"errors"
	"fmt"
	"strings"
)

// Format identifies how an update artifact is installed.
type Format string

const (
	// FormatNsis is a Windows NSIS setup executable.
	FormatNsis Format = "nsis"
	// FormatWix is a Windows MSI package built with WiX.
	FormatWix Format = "wix"
	// FormatAppImage is a Linux AppImage replacing the running one in place.
	FormatAppImage Format = "appimage"
	// FormatApp is a gzip-compressed tar of a macOS .app bundle.
	FormatApp Format = "app"
)

// ErrUnsupportedUpdateFormat is returned for format tags outside the closed set.
var ErrUnsupportedUpdateFormat = errors.New("unsupported update format")

// ParseFormat converts a manifest format tag, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatNsis, FormatWix, FormatAppImage, FormatApp:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedUpdateFormat, s)
	}
}

// FormatFromFilename infers the format from an artifact file name.
func FormatFromFilename(name string) (Format, error) {
	lower := strings.ToLower(name)

	switch {
	case strings.HasSuffix(lower, ".appimage"):
		return FormatAppImage, nil
	case strings.HasSuffix(lower, ".app.tar.gz"), strings.HasSuffix(lower, ".app.tgz"):
		return FormatApp, nil
	case strings.HasSuffix(lower, ".msi"):
		return FormatWix, nil
	case strings.HasSuffix(lower, ".exe"):
		return FormatNsis, nil
	default:
		return "", fmt.Errorf("%w: cannot infer from %q", ErrUnsupportedUpdateFormat, name)
	}
}

// String implements fmt.Stringer.
func (f Format) String() string {
	return string(f)
}

// MarshalText implements encoding.TextMarshaler.
func (f Format) MarshalText() ([]byte, error) {
	if _, err := ParseFormat(string(f)); err != nil {
		return nil, err
	}

	return []byte(f), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Format) UnmarshalText(text []byte) error {
	parsed, err := ParseFormat(string(text))
	if err != nil {
		return err
	}

	*f = parsed

	return nil
}
