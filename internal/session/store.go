// Package session persists upload batches: which images belong to a
// batch, their pixel dimensions and the prompt template used for the
// last export.
package session

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
)

// TimeLayout is the timestamp format used inside session files.
const TimeLayout = "2006-01-02T15:04:05"

var ErrNotFound = errors.New("session not found")

var idPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// Image is one uploaded source photo of a session.
type Image struct {
	ID         string `json:"image_id"`
	Name       string `json:"image_name"`
	StoredName string `json:"stored_image"`
	Width      int    `json:"image_width"`
	Height     int    `json:"image_height"`
}

// Session is one upload batch. CreatedAt and LastExportAt use TimeLayout.
type Session struct {
	ID             string  `json:"session_id"`
	CreatedAt      string  `json:"created_at"`
	Images         []Image `json:"images"`
	PromptTemplate string  `json:"prompt_template"`
	LastExportAt   string  `json:"last_export_at,omitempty"`
}

// FindImage returns the image with the given id.
func (s *Session) FindImage(id string) (Image, bool) {
	for _, img := range s.Images {
		if img.ID == id {
			return img, true
		}
	}
	return Image{}, false
}

// NewID mints a session identifier.
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// NewImageID mints a short image identifier.
func NewImageID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:12]
}

// ValidID reports whether id is a well-formed session identifier. Ids
// are embedded in filesystem paths, so anything else is rejected.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Store reads and writes session files under a single directory, one
// JSON file per session.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the session file location for id.
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes the session file, creating the store directory if needed.
// Output keeps CJK text readable, so HTML escaping is off.
func (s *Store) Save(sess *Session) error {
	if !ValidID(sess.ID) {
		return fmt.Errorf("invalid session id %q", sess.ID)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create sessions directory: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sess); err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := os.WriteFile(s.Path(sess.ID), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// Load reads a session by id. Unknown and malformed ids both come back
// as ErrNotFound.
func (s *Store) Load(id string) (*Session, error) {
	if !ValidID(id) {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(s.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	return &sess, nil
}
