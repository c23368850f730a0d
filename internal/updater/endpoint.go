package updater

import "strings"

// Endpoint template placeholders.
const (
	placeholderCurrentVersion = "{{current_version}}"
	placeholderTarget         = "{{target}}"
	placeholderArch           = "{{arch}}"
)

// ResolveEndpoint substitutes the placeholders of an endpoint template.
func ResolveEndpoint(template, currentVersion, target, arch string) string {
	return strings.NewReplacer(
		placeholderCurrentVersion, currentVersion,
		placeholderTarget, target,
		placeholderArch, arch,
	).Replace(template)
}
