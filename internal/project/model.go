package project

import (
	"crypto/rand"
	"encoding/binary"
	"image"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Project is the in-memory mirror of one server-side project. It is owned
// exclusively by the store that loaded it; concurrent mutation of the same
// aggregate needs external coordination by contract.
type Project struct {
	ID              string
	Name            string
	Version         string
	CreateTimestamp int64
	ModifyTimestamp int64
	Metadata        Metadata
	Entries         []*ImageEntry
}

// ServerBuilder describes how to reconstruct an entry's pixel source: the
// slide URI plus builder-specific arguments. Opaque to the store.
type ServerBuilder struct {
	URI  string   `json:"uri"`
	Args []string `json:"args,omitempty"`
}

// ImageEntry is one image's membership record within a project. Exactly one
// of ImageData (embedded snapshot) or ServerBuilder alone is authoritative
// for reconstructing pixels; metadata and annotations exist either way.
type ImageEntry struct {
	EntryID        int64
	ImageName      string
	RandomizedName string
	Description    string
	Metadata       Metadata
	ServerBuilder  ServerBuilder

	// ImageData is an optional base64 snapshot of full annotation/image
	// state. Annotations is a denormalized JSON snapshot of just the
	// annotation objects, a bridge field carried verbatim and never
	// interpreted here.
	ImageData   string
	Annotations string

	mu            sync.Mutex
	thumb         image.Image
	fetchInFlight atomic.Bool
}

// NewImageEntry creates an entry with a fresh random id. An empty name
// defaults to "Image " + id.
func NewImageEntry(builder ServerBuilder, name string) *ImageEntry {
	id := newEntryID()
	if name == "" {
		name = "Image " + strconv.FormatInt(id, 10)
	}
	return &ImageEntry{
		EntryID:        id,
		ImageName:      name,
		RandomizedName: uuid.NewString(),
		ServerBuilder:  builder,
	}
}

// Thumbnail returns the cached thumbnail, or nil if none has been produced.
func (e *ImageEntry) Thumbnail() image.Image {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.thumb
}

func (e *ImageEntry) setThumbnail(img image.Image) {
	e.mu.Lock()
	e.thumb = img
	e.mu.Unlock()
}

// newEntryID draws a uniformly random 63-bit non-negative id. Collisions are
// not checked; the id space makes them astronomically unlikely.
func newEntryID() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return int64(binary.BigEndian.Uint64(buf[:]) & (1<<63 - 1))
}
