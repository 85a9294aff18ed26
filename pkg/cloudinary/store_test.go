package cloudinary

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseReference(t *testing.T) {
	cases := []struct {
		name         string
		ref          string
		resourceType string
		publicID     string
	}{
		{"raw url keeps extension", "https://res.cloudinary.com/demo/raw/upload/v1712/drafts/essay.docx", "raw", "drafts/essay.docx"},
		{"video url drops extension", "https://res.cloudinary.com/demo/video/upload/v1/drafts/talk.mp4", "video", "drafts/talk"},
		{"url without version", "https://res.cloudinary.com/demo/image/upload/drafts/scan.png", "image", "drafts/scan"},
		{"bare public id", "drafts/essay.pdf", "raw", "drafts/essay.pdf"},
		{"empty", "  ", "", ""},
		{"foreign url", "https://example.com/files/a.pdf", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resourceType, publicID := ParseReference(tc.ref)
			require.Equal(t, tc.resourceType, resourceType)
			require.Equal(t, tc.publicID, publicID)
		})
	}
}
