// Package media is the Media Host: image storage keyed by a deterministic
// public id. Uploading to an existing id replaces the asset.
package media

import (
	"context"
	"errors"
	"io"
)

// ErrInvalidID is returned for a public id that is empty or escapes the
// host's namespace.
var ErrInvalidID = errors.New("media: invalid public id")

// Host stores images by public id.
type Host interface {
	// Upload stores the image read from r under publicID, overwriting any
	// previous asset, and returns its public URL.
	Upload(ctx context.Context, publicID string, r io.Reader) (string, error)
	// Delete removes the asset. Deleting a missing asset is not an error.
	Delete(ctx context.Context, publicID string) error
}

// ProfileImageID is the public id of a user's profile image.
func ProfileImageID(uid string) string {
	return "profile_" + uid
}
