package ytdlp

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CookieConfig selects how yt-dlp authenticates to YouTube. FromBrowser wins
// when set; otherwise File is passed with --cookies and validated before use.
type CookieConfig struct {
	File        string
	FromBrowser string
	MaxAge      time.Duration // 0 disables the staleness check
}

// sessionAuthCookies are the cookie names any one of which proves a live
// YouTube session. An exported file without them is effectively logged out.
var sessionAuthCookies = map[string]bool{
	"HSID":           true,
	"SID":            true,
	"SSID":           true,
	"__Secure-1PSID": true,
	"__Secure-3PSID": true,
}

func (c CookieConfig) args() []string {
	if strings.TrimSpace(c.FromBrowser) != "" {
		return []string{"--cookies-from-browser", c.FromBrowser}
	}
	if strings.TrimSpace(c.File) != "" {
		return []string{"--cookies", c.File}
	}
	return nil
}

// Check validates the cookie file and returns the list of problems found.
// Browser-sourced cookies are always considered ready; refreshing a broken
// file is outside this package.
func (c CookieConfig) Check() []string {
	if strings.TrimSpace(c.FromBrowser) != "" {
		return nil
	}
	if strings.TrimSpace(c.File) == "" {
		return nil
	}
	return checkCookieFile(c.File, c.MaxAge)
}

func (c CookieConfig) assertReady() error {
	if reasons := c.Check(); len(reasons) > 0 {
		return fmt.Errorf("broken cookies: %s", strings.Join(reasons, "; "))
	}
	return nil
}

func checkCookieFile(path string, maxAge time.Duration) []string {
	var reasons []string

	info, err := os.Stat(path)
	if err != nil {
		return []string{fmt.Sprintf("cookies file missing: %s", path)}
	}

	f, err := os.Open(path)
	if err != nil {
		return []string{fmt.Sprintf("cookies file unreadable: %s", path)}
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	first := true
	hasSessionAuth := false
	now := time.Now().Unix()
	for sc.Scan() {
		line := sc.Text()
		if first {
			first = false
			if !strings.HasPrefix(line, "# Netscape HTTP Cookie File") {
				return []string{fmt.Sprintf("cookies file is not Netscape format: %s", path)}
			}
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) != 7 {
			continue
		}
		domain, expiryRaw, name := parts[0], parts[4], parts[5]
		if !strings.Contains(strings.ToLower(domain), "youtube.com") {
			continue
		}
		if !sessionAuthCookies[name] {
			continue
		}
		expiry, err := strconv.ParseInt(expiryRaw, 10, 64)
		if err != nil {
			continue
		}
		if expiry == 0 || expiry > now {
			hasSessionAuth = true
		}
	}
	if first {
		return []string{fmt.Sprintf("cookies file is not Netscape format: %s", path)}
	}
	if !hasSessionAuth {
		reasons = append(reasons, "no unexpired YouTube session auth cookies found")
	}
	if maxAge > 0 && time.Since(info.ModTime()) > maxAge {
		reasons = append(reasons, fmt.Sprintf("cookies file older than %s", maxAge))
	}
	return reasons
}
