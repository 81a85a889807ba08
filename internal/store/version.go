package store

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is the current persisted-file schema version. The major
// component gates compatibility: documents written by a different major
// version are refused rather than migrated silently.
const SchemaVersion = "1.0.0"

// CheckSchemaVersion validates a document's version field against the
// current schema. Empty versions are accepted as pre-versioning documents
// and upgraded on the next write.
func CheckSchemaVersion(version string) error {
	if version == "" {
		return nil
	}

	docVer, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid schema version %q: %w", version, err)
	}
	curVer := semver.MustParse(SchemaVersion)

	if docVer.Major() != curVer.Major() {
		return fmt.Errorf("incompatible schema version %s (current %s)", version, SchemaVersion)
	}
	return nil
}
