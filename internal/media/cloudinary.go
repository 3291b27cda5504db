package media

import (
	"context"
	"fmt"
	"io"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// Cloudinary is a Host backed by the Cloudinary upload API. The SDK signs
// every request with the API secret.
type Cloudinary struct {
	cld *cloudinary.Cloudinary
}

// NewCloudinary creates a Cloudinary host for cloudName.
func NewCloudinary(cloudName, apiKey, apiSecret string) (*Cloudinary, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("media: configuring cloudinary: %w", err)
	}
	return &Cloudinary{cld: cld}, nil
}

// Upload stores the image under publicID, replacing any previous version and
// purging cached copies of it.
func (c *Cloudinary) Upload(ctx context.Context, publicID string, r io.Reader) (string, error) {
	if publicID == "" {
		return "", ErrInvalidID
	}

	res, err := c.cld.Upload.Upload(ctx, r, uploader.UploadParams{
		PublicID:     publicID,
		ResourceType: "image",
		Overwrite:    api.Bool(true),
		Invalidate:   api.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("media: calling cloudinary upload: %w", err)
	}
	if res.Error.Message != "" {
		return "", fmt.Errorf("media: cloudinary upload failed: %s", res.Error.Message)
	}
	if res.SecureURL == "" {
		return "", fmt.Errorf("media: cloudinary upload returned no URL")
	}
	return res.SecureURL, nil
}

// Delete removes publicID. An image that is already gone counts as deleted.
func (c *Cloudinary) Delete(ctx context.Context, publicID string) error {
	if publicID == "" {
		return ErrInvalidID
	}

	res, err := c.cld.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     publicID,
		ResourceType: "image",
		Invalidate:   api.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("media: calling cloudinary destroy: %w", err)
	}
	if res.Error.Message != "" {
		return fmt.Errorf("media: cloudinary destroy failed: %s", res.Error.Message)
	}
	switch res.Result {
	case "ok", "not found":
		return nil
	default:
		return fmt.Errorf("media: cloudinary destroy returned %q", res.Result)
	}
}
