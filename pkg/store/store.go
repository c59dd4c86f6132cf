// Package store defines the durable storage contract for saved coaching
// recordings.
//
// A [Recording] is one finished session: the assembled media object plus the
// transcript the live model produced while it ran. Implementations live in
// sub-packages ([memstore], [sqlite], [postgres]) and are selected by the
// storage.driver configuration key.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get and Delete when no recording has the ID.
var ErrNotFound = errors.New("store: recording not found")

// Recording is one saved session.
type Recording struct {
	// ID is assigned by the store on Save. Zero on input.
	ID int64

	// Title is the user-supplied name.
	Title string

	// Date is when the recording was finalized.
	Date time.Time

	// MIMEType describes Media, typically "video/webm".
	MIMEType string

	// Media is the assembled recording. List leaves it nil.
	Media []byte

	// Analysis is the transcript accumulated during the session.
	Analysis string

	// Size is len(Media) as stored. Populated by List and Get.
	Size int64
}

// Store persists recordings. All methods are safe for concurrent use.
type Store interface {
	// Save stores rec and returns the assigned ID.
	Save(ctx context.Context, rec Recording) (int64, error)

	// List returns metadata for every recording, newest first. Media is nil.
	List(ctx context.Context) ([]Recording, error)

	// Get returns the recording with its media.
	Get(ctx context.Context, id int64) (Recording, error)

	// Delete removes the recording.
	Delete(ctx context.Context, id int64) error

	// Close releases resources.
	Close() error
}
