package project

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion is the project wire format version this client writes.
// Serialize always emits the current version regardless of what the project
// was loaded with: upgrading on save is intended behavior.
const SchemaVersion = "1.0"

// FormatError marks an unparseable or unsupported project payload. Loads
// abort on it; nothing partial is kept.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("project format: %s: %v", e.Reason, e.Err)
	}
	return "project format: " + e.Reason
}

func (e *FormatError) Unwrap() error { return e.Err }

func formatErrorf(err error, format string, args ...any) *FormatError {
	return &FormatError{Reason: fmt.Sprintf(format, args...), Err: err}
}

type entryDoc struct {
	EntryID        int64         `json:"entryId"`
	ImageName      string        `json:"imageName"`
	RandomizedName string        `json:"randomizedName,omitempty"`
	Description    string        `json:"description,omitempty"`
	Metadata       Metadata      `json:"metadata,omitempty"`
	ServerBuilder  ServerBuilder `json:"serverBuilder"`
	ImageData      string        `json:"imageData,omitempty"`
	Annotations    string        `json:"annotations,omitempty"`
}

type projectDoc struct {
	ID              string     `json:"id"`
	Name            string     `json:"name,omitempty"`
	Version         *string    `json:"version,omitempty"`
	CreateTimestamp *int64     `json:"createTimestamp,omitempty"`
	ModifyTimestamp *int64     `json:"modifyTimestamp,omitempty"`
	Metadata        string     `json:"metadata,omitempty"`
	Images          []entryDoc `json:"images,omitempty"`
}

// Parse builds a Project from a server-delivered payload. id, both
// timestamps, and version are required; a missing version means the payload
// predates the versioned format, which is unsupported. images and metadata
// are optional.
func Parse(raw []byte) (*Project, error) {
	var doc projectDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, formatErrorf(err, "malformed payload")
	}
	if doc.ID == "" {
		return nil, formatErrorf(nil, "missing id")
	}
	if doc.Version == nil || *doc.Version == "" {
		return nil, formatErrorf(nil, "missing version: pre-versioned project formats are unsupported")
	}
	if doc.CreateTimestamp == nil {
		return nil, formatErrorf(nil, "missing createTimestamp")
	}
	if doc.ModifyTimestamp == nil {
		return nil, formatErrorf(nil, "missing modifyTimestamp")
	}

	p := &Project{
		ID:              doc.ID,
		Name:            doc.Name,
		Version:         *doc.Version,
		CreateTimestamp: *doc.CreateTimestamp,
		ModifyTimestamp: *doc.ModifyTimestamp,
	}

	if doc.Metadata != "" {
		decoded, err := base64.StdEncoding.DecodeString(doc.Metadata)
		if err != nil {
			return nil, formatErrorf(err, "metadata is not valid base64")
		}
		if err := json.Unmarshal(decoded, &p.Metadata); err != nil {
			return nil, formatErrorf(err, "metadata is not a JSON object")
		}
	}

	for _, img := range doc.Images {
		p.Entries = append(p.Entries, &ImageEntry{
			EntryID:        img.EntryID,
			ImageName:      img.ImageName,
			RandomizedName: img.RandomizedName,
			Description:    img.Description,
			Metadata:       img.Metadata,
			ServerBuilder:  img.ServerBuilder,
			ImageData:      img.ImageData,
			Annotations:    img.Annotations,
		})
	}
	return p, nil
}

// Serialize renders the project for upload: the current schema version, the
// preserved creation timestamp, a fresh modification timestamp, base64
// metadata when present, and the full ordered entry list including embedded
// image data and the denormalized annotations string.
func Serialize(p *Project) ([]byte, error) {
	version := SchemaVersion
	now := time.Now().UnixMilli()
	doc := projectDoc{
		ID:              p.ID,
		Name:            p.Name,
		Version:         &version,
		CreateTimestamp: &p.CreateTimestamp,
		ModifyTimestamp: &now,
	}

	if len(p.Metadata) > 0 {
		encoded, err := json.Marshal(p.Metadata)
		if err != nil {
			return nil, fmt.Errorf("serialize metadata: %w", err)
		}
		doc.Metadata = base64.StdEncoding.EncodeToString(encoded)
	}

	for _, entry := range p.Entries {
		doc.Images = append(doc.Images, entryDoc{
			EntryID:        entry.EntryID,
			ImageName:      entry.ImageName,
			RandomizedName: entry.RandomizedName,
			Description:    entry.Description,
			Metadata:       entry.Metadata,
			ServerBuilder:  entry.ServerBuilder,
			ImageData:      entry.ImageData,
			Annotations:    entry.Annotations,
		})
	}

	return json.Marshal(doc)
}
