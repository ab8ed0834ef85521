package inbox

import (
	"github.com/inletapp/go-inbox/core"
	"github.com/inletapp/go-inbox/providers/gmailnews"
	"github.com/inletapp/go-inbox/providers/spotify"
	"github.com/inletapp/go-inbox/providers/youtube"
)

func YouTubeProvider(cfg youtube.Config) (core.Provider, error) {
	return youtube.New(cfg)
}

func SpotifyProvider(cfg spotify.Config) (core.Provider, error) {
	return spotify.New(cfg)
}

func GmailNewsletterProvider(cfg gmailnews.Config) (core.Provider, error) {
	return gmailnews.New(cfg)
}
