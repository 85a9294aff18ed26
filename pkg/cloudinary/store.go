package cloudinary

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"
)

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
}

// Store removes original submission files that were uploaded to Cloudinary by the ingress collaborator.
type Store struct {
	client *cloudinary.Cloudinary
	logger zerolog.Logger
}

// New constructs a Cloudinary backed store.
func New(cfg Config, logger zerolog.Logger) (*Store, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	return &Store{
		client: cld,
		logger: logger.With().Str("component", "cloudinary").Logger(),
	}, nil
}

// Delete destroys the asset behind a file reference. References may be delivery URLs or bare public ids.
func (s *Store) Delete(ctx context.Context, fileRef string) error {
	resourceType, publicID := ParseReference(fileRef)
	if publicID == "" {
		return fmt.Errorf("invalid cloudinary reference %q", fileRef)
	}

	result, err := s.client.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     publicID,
		ResourceType: resourceType,
	})
	if err != nil {
		return fmt.Errorf("failed to destroy asset: %w", err)
	}
	if result.Error.Message != "" {
		return fmt.Errorf("failed to destroy asset: %s", result.Error.Message)
	}

	s.logger.Info().Str("public_id", publicID).Str("result", result.Result).Msg("submission file destroyed")
	return nil
}

// ParseReference extracts the resource type and public id from a Cloudinary delivery URL.
// Bare public ids are treated as raw assets.
func ParseReference(ref string) (string, string) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ""
	}

	parsed, err := url.Parse(ref)
	if err != nil || parsed.Host == "" {
		return "raw", ref
	}

	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i, segment := range segments {
		if segment != "upload" || i == 0 {
			continue
		}
		resourceType := segments[i-1]
		rest := segments[i+1:]
		if len(rest) > 0 && isVersionSegment(rest[0]) {
			rest = rest[1:]
		}
		if len(rest) == 0 {
			return "", ""
		}
		publicID := strings.Join(rest, "/")
		if resourceType != "raw" {
			publicID = strings.TrimSuffix(publicID, path.Ext(publicID))
		}
		return resourceType, publicID
	}

	return "", ""
}

func isVersionSegment(segment string) bool {
	if len(segment) < 2 || segment[0] != 'v' {
		return false
	}
	for _, r := range segment[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
