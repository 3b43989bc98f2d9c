package platform_test

import (
	"testing"

	"github.com/hbomb79/anyvid/internal/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedSource(t *testing.T) {
	yt := platform.Classify("https://youtu.be/dQw4w9WgXcQ")
	bili := platform.Classify("https://www.bilibili.com/video/BV1xx411c7mD")

	tests := []struct {
		name     string
		info     platform.Info
		opts     platform.EmbedOptions
		expected string
	}{
		{"youtube defaults", yt, platform.EmbedOptions{}, "https://www.youtube.com/embed/dQw4w9WgXcQ?autoplay=0&mute=0&loop=0&playlist=dQw4w9WgXcQ"},
		{"youtube all flags", yt, platform.EmbedOptions{Autoplay: true, Mute: true, Loop: true}, "https://www.youtube.com/embed/dQw4w9WgXcQ?autoplay=1&mute=1&loop=1&playlist=dQw4w9WgXcQ"},
		{"bilibili ignores loop", bili, platform.EmbedOptions{Autoplay: true, Loop: true}, "//player.bilibili.com/player.html?bvid=BV1xx411c7mD&autoplay=1&muted=0"},
		{"bilibili muted", bili, platform.EmbedOptions{Mute: true}, "//player.bilibili.com/player.html?bvid=BV1xx411c7mD&autoplay=0&muted=1"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			src, err := platform.EmbedSource(test.info, test.opts)
			require.NoError(t, err)
			assert.Equal(t, test.expected, src)
		})
	}
}

func TestEmbedSource_Unsupported(t *testing.T) {
	for _, url := range []string{"https://vimeo.com/1", "https://x.com/u/status/1", "https://www.youtube.com/feed"} {
		_, err := platform.EmbedSource(platform.Classify(url), platform.EmbedOptions{})
		assert.ErrorIs(t, err, platform.ErrEmbedUnsupported, url)
	}
}

func TestEmbedCode(t *testing.T) {
	code := platform.EmbedCode(platform.Classify("https://youtu.be/abc"), platform.EmbedOptions{Mute: true})
	assert.Contains(t, code, `<div style="position:relative;padding-bottom:56.25%;height:0;overflow:hidden;border-radius:8px;">`)
	assert.Contains(t, code, `src="https://www.youtube.com/embed/abc?autoplay=0&mute=1&loop=0&playlist=abc"`)
	assert.Contains(t, code, `allow="autoplay; encrypted-media; fullscreen; picture-in-picture"`)
	assert.Contains(t, code, "allowfullscreen")

	assert.Equal(t, "<!-- Advanced embed configuration is only supported for YouTube and Bilibili -->",
		platform.EmbedCode(platform.Classify("https://vimeo.com/1"), platform.EmbedOptions{}))
	assert.Equal(t, "<!-- Please provide a valid video link -->",
		platform.EmbedCode(platform.Classify("https://www.youtube.com/feed"), platform.EmbedOptions{}))
}
