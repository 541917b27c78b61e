package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Cats", "cats"},
		{"accents", "Café Crème", "cafe-creme"},
		{"punctuation runs", "hello,,, world!!", "hello-world"},
		{"leading and trailing junk", "  --red car--  ", "red-car"},
		{"underscores", "bulk_upload", "bulk-upload"},
		{"digits kept", "IMG_0042", "img-0042"},
		{"non latin dropped", "кот", "query"},
		{"empty", "", "query"},
		{"only symbols", "!!!", "query"},
		{"truncated then trimmed", "abcdefghij-klmnopqrst-uvwxyz-1234", "abcdefghij-klmnopqrst-uvwxyz-1"},
		{"cut on a dash", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaa bbb", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaa"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Slugify(tt.in, DefaultSlugLength)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(got), DefaultSlugLength)
		})
	}
}

func TestNewRunID(t *testing.T) {
	now := time.Date(2025, 3, 7, 14, 5, 9, 0, time.UTC)
	assert.Equal(t, "street-scene_2025-03-07T14-05-09", NewRunID("Street Scene", now))
	assert.Equal(t, "query_2025-03-07T14-05-09", NewRunID("", now))
}

func TestSlugBases(t *testing.T) {
	assert.Equal(t, "beach_01", UploadSlugBase([]string{"beach_01.jpg"}))
	assert.Equal(t, "photo", UploadSlugBase([]string{"../../photo.png"}))
	assert.Equal(t, "bulk_upload", UploadSlugBase([]string{"a.jpg", "b.jpg"}))

	base := QuerySlugBase("cat,dog, red car")
	assert.False(t, strings.Contains(base, ","))
	assert.Equal(t, "cat-dog-red-car", Slugify(base, DefaultSlugLength))
}

func TestReportName(t *testing.T) {
	r := &Run{ID: "cats_2025-01-01T00-00-00"}
	assert.Equal(t, "report_cats_2025-01-01T00-00-00.html", r.ReportName())
}
