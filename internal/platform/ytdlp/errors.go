package ytdlp

import (
	"errors"
	"fmt"
	"strings"
)

// Terminal outcomes of a supervised download. Callers map these to archive
// statuses instead of parsing process output themselves.
var (
	ErrLiveStopRequested  = errors.New("live stop requested")
	ErrLiveStuckTimeout   = errors.New("live stream stalled past stuck timeout")
	ErrLiveBecamePrivate  = errors.New("live stream became private mid-download")
	ErrAntibotBlocked     = errors.New("youtube anti-bot challenge blocked the request")
	ErrPrivateUnavailable = errors.New("video is private or unavailable")
	ErrNoCaptions         = errors.New("no english captions available")
)

// IsAntibotMessage reports whether yt-dlp output describes YouTube's
// sign-in / anti-bot interstitial. YouTube emits both apostrophe variants.
func IsAntibotMessage(text string) bool {
	low := strings.ToLower(text)
	return strings.Contains(low, "confirm you're not a bot") ||
		strings.Contains(low, "confirm you’re not a bot")
}

// IsRetryableAccessMessage reports whether the failure is worth retrying
// under an alternate YouTube client profile.
func IsRetryableAccessMessage(text string) bool {
	low := strings.ToLower(text)
	return IsAntibotMessage(low) ||
		strings.Contains(low, "no video formats found") ||
		strings.Contains(low, "challenge solving failed")
}

func isPrivateUnavailableMessage(text string) bool {
	low := strings.ToLower(text)
	return strings.Contains(low, "video unavailable") && strings.Contains(low, "private")
}

// classifyAccessError turns a raw yt-dlp failure message into a tagged error
// where the message matches a known class, otherwise a plain error carrying
// the message.
func classifyAccessError(msg string) error {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "yt-dlp failed"
	}
	switch {
	case IsAntibotMessage(msg):
		return fmt.Errorf("%w: %s", ErrAntibotBlocked, msg)
	case isPrivateUnavailableMessage(msg):
		return fmt.Errorf("%w: %s", ErrPrivateUnavailable, msg)
	default:
		return errors.New(msg)
	}
}

// terminalDownloadError reports sentinels that must never be retried across
// client profiles.
func terminalDownloadError(err error) bool {
	return errors.Is(err, ErrLiveStopRequested) ||
		errors.Is(err, ErrLiveStuckTimeout) ||
		errors.Is(err, ErrLiveBecamePrivate)
}
