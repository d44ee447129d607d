package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	syncerrors "github.com/gxo-labs/statesync/pkg/statesync/v1/errors"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// SupportedSchemaVersionConstraint is the schema major version this runtime
// accepts.
const SupportedSchemaVersionConstraint = "v1"

// Load validates configYAML against the embedded schema, decodes it strictly
// on top of Default(), checks the schema version and runs the logical checks.
func Load(configYAML []byte, filePathHint string) (*Config, error) {
	if len(bytes.TrimSpace(configYAML)) == 0 {
		return nil, syncerrors.NewConfigError("configuration content cannot be empty", nil)
	}

	if err := ValidateWithSchema(configYAML); err != nil {
		return nil, syncerrors.NewConfigError(fmt.Sprintf("configuration '%s' failed schema validation", filePathHint), err)
	}

	cfg := Default()
	cfg.SchemaVersion = ""
	if err := yamlUnmarshalStrict(configYAML, cfg); err != nil {
		return nil, syncerrors.NewConfigError(fmt.Sprintf("failed to parse configuration YAML '%s'", filePathHint), err)
	}
	cfg.FilePath = filePathHint

	if err := checkSchemaVersion(cfg.SchemaVersion, filePathHint); err != nil {
		return nil, err
	}

	if validationErrs := ValidateConfig(cfg); len(validationErrs) > 0 {
		messages := make([]string, 0, len(validationErrs))
		for _, vErr := range validationErrs {
			messages = append(messages, vErr.Error())
		}
		combined := fmt.Sprintf("configuration '%s' has %d validation error(s):\n- %s",
			filePathHint, len(messages), strings.Join(messages, "\n- "))
		return nil, syncerrors.NewValidationError(combined, validationErrs[0])
	}

	return cfg, nil
}

// LoadFromFile reads and loads the configuration at filePath. Files with a
// .toml extension are converted to YAML first and then follow the same path.
func LoadFromFile(filePath string) (*Config, error) {
	if filePath == "" {
		return nil, syncerrors.NewConfigError("configuration file path cannot be empty", nil)
	}
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, syncerrors.NewConfigError(fmt.Sprintf("failed to get absolute path for '%s'", filePath), err)
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, syncerrors.NewConfigError(fmt.Sprintf("failed to read configuration file '%s'", absPath), err)
	}
	if strings.EqualFold(filepath.Ext(absPath), ".toml") {
		content, err = tomlToYAML(content)
		if err != nil {
			return nil, syncerrors.NewConfigError(fmt.Sprintf("failed to parse configuration TOML '%s'", absPath), err)
		}
	}
	return Load(content, absPath)
}

func tomlToYAML(in []byte) ([]byte, error) {
	var doc map[string]interface{}
	if err := toml.Unmarshal(in, &doc); err != nil {
		return nil, err
	}
	if len(doc) == 0 {
		return nil, nil
	}
	return yaml.Marshal(doc)
}

func checkSchemaVersion(version, filePathHint string) error {
	if version == "" {
		return syncerrors.NewValidationError(fmt.Sprintf("configuration '%s' is missing required 'schemaVersion' field", filePathHint), nil)
	}
	v := version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return syncerrors.NewValidationError(fmt.Sprintf("configuration '%s' has invalid 'schemaVersion' format: '%s'", filePathHint, version), nil)
	}
	if semver.Major(v) != SupportedSchemaVersionConstraint {
		return syncerrors.NewValidationError(
			fmt.Sprintf("configuration '%s' schemaVersion '%s' is not compatible with runtime requirement '%s'",
				filePathHint, version, SupportedSchemaVersionConstraint),
			nil,
		)
	}
	return nil
}

// yamlUnmarshalStrict rejects fields that the target struct does not define.
func yamlUnmarshalStrict(in []byte, out interface{}) error {
	decoder := yaml.NewDecoder(bytes.NewReader(in))
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("YAML parsing error: %w", err)
	}
	return nil
}
