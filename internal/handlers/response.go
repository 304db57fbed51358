package handlers

import (
	"encoding/json"
	"math"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

var videoIDRE = regexp.MustCompile(`^[A-Za-z0-9_-]{6,20}$`)

// SafeVideoID trims the input and accepts only YouTube-id-shaped strings.
func SafeVideoID(value string) string {
	v := strings.TrimSpace(value)
	if videoIDRE.MatchString(v) {
		return v
	}
	return ""
}

// RespondOK writes the payload with ok:true folded in.
func RespondOK(c *gin.Context, payload gin.H) {
	if payload == nil {
		payload = gin.H{}
	}
	payload["ok"] = true
	c.JSON(http.StatusOK, payload)
}

func RespondError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"ok": false, "error": msg})
}

func RespondBadRequest(c *gin.Context, msg string) {
	RespondError(c, http.StatusBadRequest, msg)
}

func RespondNotFound(c *gin.Context, msg string) {
	RespondError(c, http.StatusNotFound, msg)
}

func RespondServerError(c *gin.Context, err error) {
	RespondError(c, http.StatusInternalServerError, friendlyAPIError(err))
}

// friendlyAPIError rewrites the provider error strings a UI user can act on;
// everything else passes through verbatim.
func friendlyAPIError(err error) string {
	if err == nil {
		return "unknown error"
	}
	raw := strings.TrimSpace(err.Error())
	low := strings.ToLower(raw)
	if strings.Contains(low, "rate-limited by youtube") ||
		(strings.Contains(low, "this content isn't available, try again later") &&
			(strings.Contains(low, "youtube") || strings.Contains(low, "yt-dlp"))) {
		return "YouTube temporarily rate-limited this server session (can last up to about 1 hour). " +
			"This is not necessarily a bad video URL; YouTube is blocking requests right now. " +
			"Retry later, or rotate cookies/proxy to reduce blocking."
	}
	if strings.Contains(low, "this video is private") || strings.Contains(low, "private video") {
		return "This video is private/unavailable for the current cookies/session. " +
			"Use cookies from an account that can access it."
	}
	if raw == "" {
		return "unknown error"
	}
	return raw
}

func elapsedSince(start time.Time) float64 {
	return math.Round(time.Since(start).Seconds()*100) / 100
}

// flatten folds a serializable struct into the response envelope so its
// fields sit next to ok and elapsed_sec.
func flatten(v any, extra gin.H) gin.H {
	out := gin.H{}
	if raw, err := json.Marshal(v); err == nil {
		_ = json.Unmarshal(raw, &out)
	}
	for k, val := range extra {
		out[k] = val
	}
	return out
}

// boolParam reads a query flag the way the UI sends it.
func boolParam(c *gin.Context, name string) bool {
	switch strings.ToLower(strings.TrimSpace(c.Query(name))) {
	case "1", "true", "yes":
		return true
	}
	return false
}
