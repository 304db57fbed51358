package app

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/utils"
)

// Config is the process-level knob set. Service-local tuning stays in the
// services; only values shared across wiring live here.
type Config struct {
	ServerAddr    string
	WSPath        string
	StorageDir    string
	PublicURLBase string
	StateDSN      string
	EmbedDim      int
	RetentionDays int

	YtdlpPath          string
	YtdlpProxy         string
	CookiesFile        string
	CookiesFromBrowser string
	MaxHeight          int
	LiveStuckTimeout   time.Duration
	SubLangPrefs       []string

	RealtimeBus string
}

// applyConfigFile pre-seeds environment defaults from the optional YAML
// overlay. A file value applies only when the variable is not already set, so
// real environment always wins.
func applyConfigFile(log *logger.Logger) {
	path := strings.TrimSpace(os.Getenv("DECK_CONFIG_FILE"))
	if path == "" {
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Warn("Could not read config overlay file", "path", path, "error", err)
		return
	}
	overlay := map[string]string{}
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		log.Warn("Could not parse config overlay file", "path", path, "error", err)
		return
	}
	applied := 0
	for key, value := range overlay {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err == nil {
			applied++
		}
	}
	log.Info("Applied config overlay", "path", path, "keys", applied)
}

func LoadConfig(log *logger.Logger) Config {
	applyConfigFile(log)

	dsn := utils.GetEnv("STATE_DB_DSN", "", log)
	if dsn == "" {
		dsn = utils.GetEnv("DATABASE_URL", "", log)
	}

	var prefs []string
	for _, p := range strings.Split(utils.GetEnv("VIDEO_SUB_LANG_PREFER", "en,en-US,en-GB", log), ",") {
		if p = strings.TrimSpace(p); p != "" {
			prefs = append(prefs, p)
		}
	}

	return Config{
		ServerAddr:    utils.GetEnv("SERVER_ADDR", ":8090", log),
		WSPath:        "/ws",
		StorageDir:    utils.GetEnv("STORAGE_DIR", "./data", log),
		PublicURLBase: utils.GetEnv("PUBLIC_URL_BASE", "", log),
		StateDSN:      dsn,
		EmbedDim:      utils.GetEnvAsInt("VIDEO_EMBED_DIM", 1536, log),
		RetentionDays: utils.GetEnvAsInt("RETENTION_DAYS", 60, log),

		YtdlpPath:          utils.GetEnv("YTDLP_PATH", "yt-dlp", log),
		YtdlpProxy:         utils.GetEnv("YTDLP_PROXY", "", log),
		CookiesFile:        utils.GetEnv("YTDLP_COOKIES_FILE", "", log),
		CookiesFromBrowser: utils.GetEnv("YTDLP_COOKIES_FROM_BROWSER", "", log),
		MaxHeight:          utils.GetEnvAsInt("MAX_HEIGHT", 1080, log),
		LiveStuckTimeout:   time.Duration(utils.GetEnvAsInt("LIVE_STUCK_TIMEOUT_SEC", 300, log)) * time.Second,
		SubLangPrefs:       prefs,

		RealtimeBus: strings.ToLower(utils.GetEnv("REALTIME_BUS", "memory", log)),
	}
}
