// Package records gives the engine access to the host application's items
// and files. The engine only reads here; ownership of these rows stays with
// the host. Implementations are thin and replaceable.
package records

import (
	"context"
	"io"
	"strings"
)

// Item is a host record that maps 1:1 onto a remote bucket.
type Item struct {
	ID         int64
	Title      string
	Collection string
	Creator    string
}

// File is a host record attached to an item; it maps onto one object inside
// the item's bucket.
type File struct {
	ID               int64
	ItemID           int64
	OriginalFilename string
	StoragePath      string
	Size             int64
	MimeType         string
}

// MediaType maps the file's MIME type onto the service's media type
// vocabulary. An empty return means "use the configured default".
func (f *File) MediaType() string {
	main, _, _ := strings.Cut(f.MimeType, "/")
	switch main {
	case "text":
		return "texts"
	case "video":
		return "movies"
	case "audio":
		return "audio"
	}
	return ""
}

// Store is the read surface the engine needs from the host application.
type Store interface {
	// Item returns the item with the given id, or common.ErrNotFound.
	Item(ctx context.Context, id int64) (*Item, error)

	// File returns the file with the given id, or common.ErrNotFound.
	File(ctx context.Context, id int64) (*File, error)

	// CountFilesWithName counts files attached to itemID sharing the given
	// original filename; used to deduplicate remote object names.
	CountFilesWithName(ctx context.Context, itemID int64, originalFilename string) (int, error)

	// Open returns the file's byte stream for upload.
	Open(ctx context.Context, f *File) (io.ReadCloser, error)
}
