// Package project saves and loads the character plus settings as a single JSON file.
package project

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"crafter/internal/character"
	"crafter/internal/imagegen"
	"crafter/internal/infra"
	"crafter/internal/notify"
	"crafter/internal/settings"
	"crafter/internal/storage"
)

// DefaultFileName is used when no name is given on save.
const DefaultFileName = "character_project.json"

// DefaultMaxImageBytes bounds the size of a remote image inlined on save.
const DefaultMaxImageBytes = 32 << 20

const (
	msgSaved       = "Project saved!"
	msgImageLinked = "Could not save image data. Project file will link to URL."
	msgLoaded      = "Project loaded successfully!"
	msgCorrupted   = "Failed to load project file. It may be corrupted."
)

// ErrCorrupted is returned when a project file is missing a required section.
var ErrCorrupted = errors.New("project: file is missing characterData or settings")

// File is the on-disk document.
type File struct {
	CharacterData character.Data    `json:"characterData"`
	Settings      settings.Settings `json:"settings"`
}

type rawFile struct {
	CharacterData *character.Data `json:"characterData"`
	Settings      json.RawMessage `json:"settings"`
}

// Encode renders f as indented JSON without HTML escaping.
func Encode(f File) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(f); err != nil {
		return nil, fmt.Errorf("project: encode: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses a project document. Settings are merged over the defaults and
// an embedded image replaces the image URL.
func Decode(data []byte) (File, error) {
	var raw rawFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if raw.CharacterData == nil || len(raw.Settings) == 0 || string(raw.Settings) == "null" {
		return File{}, ErrCorrupted
	}
	cfg, err := settings.Merge(settings.Defaults(), raw.Settings)
	if err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	cd := *raw.CharacterData
	if cd.GeneratedImageData != nil && *cd.GeneratedImageData != "" {
		inline := *cd.GeneratedImageData
		cd.GeneratedImageURL = &inline
	}
	return File{CharacterData: cd, Settings: cfg}, nil
}

// Options configures a Service.
type Options struct {
	HTTPClient    *http.Client
	Notifier      notify.Notifier
	Logger        *infra.Logger
	MaxImageBytes int64
}

// Service writes and reads project files through a FileStore.
type Service struct {
	store      *storage.FileStore
	httpClient *http.Client
	notifier   notify.Notifier
	logger     *infra.Logger
	maxImage   int64
}

// NewService builds a Service over store.
func NewService(store *storage.FileStore, opts Options) *Service {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	n := opts.Notifier
	if n == nil {
		n = notify.Discard
	}
	limit := opts.MaxImageBytes
	if limit <= 0 {
		limit = DefaultMaxImageBytes
	}
	return &Service{store: store, httpClient: client, notifier: n, logger: infra.LoggerOrDiscard(opts.Logger), maxImage: limit}
}

// Save inlines the current image and writes the project under name. It returns
// the canonical storage key.
func (s *Service) Save(ctx context.Context, name string, data character.Data, cfg settings.Settings) (string, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultFileName
	}
	data = s.inlineImage(ctx, data)

	body, err := Encode(File{CharacterData: data, Settings: cfg})
	if err != nil {
		return "", err
	}
	key, err := s.store.Write(ctx, name, body)
	if err != nil {
		return "", err
	}
	s.logger.Info().Str("key", key).Int("bytes", len(body)).Msg("project: saved")
	s.notifier.Notify(notify.LevelSuccess, msgSaved)
	return key, nil
}

// Load reads the project stored under name.
func (s *Service) Load(ctx context.Context, name string) (File, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultFileName
	}
	body, err := s.store.Read(ctx, name)
	if err != nil {
		s.notifier.Notify(notify.LevelError, msgCorrupted)
		return File{}, err
	}
	f, err := Decode(body)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", name).Msg("project: load failed")
		s.notifier.Notify(notify.LevelError, msgCorrupted)
		return File{}, err
	}
	s.notifier.Notify(notify.LevelSuccess, msgLoaded)
	return f, nil
}

// inlineImage copies the image into GeneratedImageData as a data URL. A remote
// image that cannot be fetched stays linked by URL.
func (s *Service) inlineImage(ctx context.Context, data character.Data) character.Data {
	url := data.ImageURL()
	if url == "" {
		return data
	}
	if imagegen.IsDataURL(url) {
		data.GeneratedImageData = &url
		return data
	}
	inline, err := s.fetchDataURL(ctx, url)
	if err != nil {
		s.logger.Warn().Err(err).Str("url", url).Msg("project: image fetch failed")
		s.notifier.Notify(notify.LevelWarning, msgImageLinked)
		return data
	}
	data.GeneratedImageData = &inline
	return data
}

func (s *Service) fetchDataURL(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("project: build image request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("project: fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("project: fetch image: status %d", resp.StatusCode)
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, s.maxImage+1))
	if err != nil {
		return "", fmt.Errorf("project: read image: %w", err)
	}
	if int64(len(payload)) > s.maxImage {
		return "", fmt.Errorf("project: image exceeds %d bytes", s.maxImage)
	}
	mimeType := "image/jpeg"
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil && strings.HasPrefix(mt, "image/") {
			mimeType = mt
		}
	}
	return imagegen.Artifact{SourceURL: url, MIMEType: mimeType, Data: payload}.DataURL(), nil
}
