package donor

import (
	"encoding/json"
	"os"

	"github.com/pcileechlab/pcileechfwgen/internal/fwerr"
)

// SaveProfile writes a profile to a JSON file.
func SaveProfile(p *Profile, path string) error {
	data, err := p.ToJSON()
	if err != nil {
		return fwerr.Wrap(fwerr.IoError, err, "marshal profile")
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fwerr.Wrap(fwerr.IoError, err, "write profile %s", path)
	}
	return nil
}

// LoadProfile reads and schema-validates a profile from a JSON file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fwerr.Wrap(fwerr.IoError, err, "read profile %s", path)
	}
	p, err := FromJSON(data)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ValidateProfileFile checks that a file parses against the profile schema
// and passes the structural invariants.
func ValidateProfileFile(path string) error {
	p, err := LoadProfile(path)
	if err != nil {
		return err
	}
	return p.Validate()
}

// ApplyTemplate overlays a donor template file onto a discovered profile.
// Template keys that are present and non-null override the discovered
// values; null fields keep the discovered value. The merge operates on the
// JSON forms so unknown template keys survive into the result.
func ApplyTemplate(base *Profile, templatePath string) (*Profile, error) {
	templateData, err := os.ReadFile(templatePath)
	if err != nil {
		return nil, fwerr.Wrap(fwerr.IoError, err, "read donor template %s", templatePath)
	}

	var overlay map[string]any
	if err := json.Unmarshal(templateData, &overlay); err != nil {
		return nil, fwerr.Wrap(fwerr.ProfileSchemaError, err, "donor template %s", templatePath)
	}

	baseData, err := json.Marshal(base)
	if err != nil {
		return nil, fwerr.Wrap(fwerr.IoError, err, "marshal base profile")
	}
	var doc map[string]any
	if err := json.Unmarshal(baseData, &doc); err != nil {
		return nil, fwerr.Wrap(fwerr.IoError, err, "reload base profile")
	}

	mergeJSON(doc, overlay)

	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, fwerr.Wrap(fwerr.IoError, err, "marshal merged profile")
	}
	return FromJSON(merged)
}

// mergeJSON deep-merges src into dst. Null values in src are skipped
// ("unknown, use discovered value"); objects merge recursively; everything
// else replaces.
func mergeJSON(dst, src map[string]any) {
	for k, v := range src {
		if v == nil {
			continue
		}
		if srcObj, ok := v.(map[string]any); ok {
			if dstObj, ok := dst[k].(map[string]any); ok {
				mergeJSON(dstObj, srcObj)
				continue
			}
		}
		dst[k] = v
	}
}

// BlankTemplate returns a skeleton donor template with every overridable
// field null.
func BlankTemplate() map[string]any {
	bars := make(map[string]any, 7)
	for _, key := range []string{"bar0", "bar1", "bar2", "bar3", "bar4", "bar5", "expansion_rom"} {
		bars[key] = nil
	}
	return map[string]any{
		"metadata": map[string]any{
			"source_bdf":        nil,
			"captured_at":       nil,
			"generator_version": nil,
		},
		"device_info": map[string]any{
			"identification": map[string]any{
				"vendor_id":           nil,
				"device_id":           nil,
				"subsystem_vendor_id": nil,
				"subsystem_device_id": nil,
				"class_code":          nil,
				"revision_id":         nil,
			},
			"bars": bars,
			"msix": nil,
		},
		"behavioral_profile": nil,
	}
}
