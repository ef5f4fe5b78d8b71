package registry

import (
	"os"

	perr "paydisco/internal/platform/errors"
	"paydisco/internal/platform/net/http/bind"

	"github.com/goccy/go-yaml"
)

// ParseSnapshot decodes and validates a YAML (or JSON) snapshot
func ParseSnapshot(b []byte) (Snapshot, error) {
	var s Snapshot
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Snapshot{}, perr.Wrap(err, perr.ErrorCodeParse, "decode registry snapshot")
	}
	if err := bind.Validate(s); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// LoadFile reads a snapshot file into a Static registry
func LoadFile(path string) (*Static, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeNotFound, "read registry snapshot %s", path)
	}
	s, err := ParseSnapshot(b)
	if err != nil {
		return nil, perr.WithOp(err, path)
	}
	apps, err := FromSpecs(s.Apps)
	if err != nil {
		return nil, err
	}
	return NewStatic(apps), nil
}
