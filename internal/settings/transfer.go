package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	// Version tags stored and exported records. Records with another version are ignored.
	Version = "1.0.0"
	// StorageKey names the persisted settings record.
	StorageKey = "character-crafter-settings"
	appName    = "Character Crafter AI"
)

var requiredFields = []string{
	"llmApiProvider", "llmModel", "llmApiUrl", "llmApiKey",
	"imageApiProvider", "imageModel", "imageApiUrl", "imageApiKey",
	"imageAspectRatio", "profilePrompt", "cardPrompt", "promptPrompt",
	"bflSettings",
}

// Record is the persisted form of Settings.
type Record struct {
	Version   string   `json:"version"`
	Settings  Settings `json:"settings"`
	LastSaved int64    `json:"lastSaved"`
}

type exportDocument struct {
	Version    string   `json:"version"`
	Settings   Settings `json:"settings"`
	ExportedAt int64    `json:"exportedAt"`
	AppName    string   `json:"appName"`
}

// ErrInvalidImport is returned for documents that cannot be imported.
var ErrInvalidImport = errors.New("settings: invalid import document")

// Export renders s as an indented document suitable for sharing.
func Export(s Settings, now time.Time) ([]byte, error) {
	return json.MarshalIndent(exportDocument{
		Version:    Version,
		Settings:   s,
		ExportedAt: now.UnixMilli(),
		AppName:    appName,
	}, "", "  ")
}

// Import parses an exported document. Every settings field must be present.
func Import(data []byte) (Settings, error) {
	var doc struct {
		Settings json.RawMessage `json:"settings"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc.Settings, &fields); err != nil || fields == nil {
		return Settings{}, fmt.Errorf("%w: settings object missing", ErrInvalidImport)
	}
	for _, name := range requiredFields {
		if _, ok := fields[name]; !ok {
			return Settings{}, fmt.Errorf("%w: missing required field: %s", ErrInvalidImport, name)
		}
	}
	var s Settings
	if err := json.Unmarshal(doc.Settings, &s); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	return s, nil
}
