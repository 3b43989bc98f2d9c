package platform

import (
	"errors"
	"fmt"
	"net/url"
)

var ErrEmbedUnsupported = errors.New("platform does not support embedding")

const (
	missingIDPlaceholder   = "<!-- Please provide a valid video link -->"
	unsupportedPlaceholder = "<!-- Advanced embed configuration is only supported for YouTube and Bilibili -->"

	embedTemplate = `<div style="position:relative;padding-bottom:56.25%%;height:0;overflow:hidden;border-radius:8px;">
  <iframe 
  src="%s" 
  width="100%%" 
  height="100%%" 
  style="position:absolute;top:0;left:0;width:100%%;height:100%%;border:0;" 
  allow="autoplay; encrypted-media; fullscreen; picture-in-picture" 
  allowfullscreen
></iframe>
</div>`
)

type EmbedOptions struct {
	Autoplay bool `query:"autoplay"`
	Mute     bool `query:"mute"`
	Loop     bool `query:"loop"`
}

// EmbedSource returns the iframe source URL for the classified video.
// Only youtube and bilibili support player embedding.
func EmbedSource(info Info, opts EmbedOptions) (string, error) {
	if info.ID == "" {
		return "", fmt.Errorf("%w: no video id", ErrEmbedUnsupported)
	}

	id := url.QueryEscape(info.ID)
	switch info.Platform {
	case YouTube:
		// loop requires the playlist parameter to be the video itself
		return fmt.Sprintf("https://www.youtube.com/embed/%s?autoplay=%d&mute=%d&loop=%d&playlist=%s",
			id, flag(opts.Autoplay), flag(opts.Mute), flag(opts.Loop), id), nil
	case Bilibili:
		return fmt.Sprintf("//player.bilibili.com/player.html?bvid=%s&autoplay=%d&muted=%d",
			id, flag(opts.Autoplay), flag(opts.Mute)), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrEmbedUnsupported, info.Platform)
	}
}

// EmbedCode returns responsive (16:9) player markup for the video. Videos
// which cannot be embedded yield an explanatory HTML comment instead. The id
// is query escaped, so the source is safe inside the attribute.
func EmbedCode(info Info, opts EmbedOptions) string {
	if info.ID == "" {
		return missingIDPlaceholder
	}

	src, err := EmbedSource(info, opts)
	if err != nil {
		return unsupportedPlaceholder
	}

	return fmt.Sprintf(embedTemplate, src)
}

func flag(b bool) int {
	if b {
		return 1
	}

	return 0
}
