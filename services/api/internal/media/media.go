// Package media uploads user avatars to Cloudinary.
package media

import (
	"context"
	"fmt"
	"io"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// Uploader stores an avatar image and returns its public URL.
type Uploader interface {
	UploadAvatar(ctx context.Context, r io.Reader, publicID string) (string, error)
}

type CloudinaryUploader struct {
	cld    *cloudinary.Cloudinary
	folder string
}

// NewCloudinary builds an uploader from a cloudinary:// connection URL.
func NewCloudinary(url, folder string) (*CloudinaryUploader, error) {
	cld, err := cloudinary.NewFromURL(url)
	if err != nil {
		return nil, fmt.Errorf("initializing cloudinary: %w", err)
	}
	return &CloudinaryUploader{cld: cld, folder: folder}, nil
}

func (u *CloudinaryUploader) UploadAvatar(ctx context.Context, r io.Reader, publicID string) (string, error) {
	resp, err := u.cld.Upload.Upload(ctx, r, uploader.UploadParams{
		PublicID: publicID,
		Folder:   u.folder,
	})
	if err != nil {
		return "", fmt.Errorf("uploading avatar: %w", err)
	}
	return resp.SecureURL, nil
}

// Disabled is the uploader used when no Cloudinary URL is configured:
// uploads are rejected but the rest of registration still works.
type Disabled struct{}

func (Disabled) UploadAvatar(context.Context, io.Reader, string) (string, error) {
	return "", fmt.Errorf("media uploads are not configured")
}
