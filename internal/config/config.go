package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig configures the arena server (cmd/fray).
type AppConfig struct {
	ListenAddr string
	WSAddr     string
	StatusAddr string

	FlagdAddr string
	FlagdAuth string

	Game        string
	MinPerMatch int
	MaxPerMatch int

	IdleTimeout  time.Duration
	MoveTimeout  time.Duration
	MatchTimeout time.Duration
	Pulse        time.Duration

	MaxPending   int
	MaxLineBytes int
	MaxBadLogins int

	PasswdFile    string
	DatabaseURL   string
	TeamsRefresh  time.Duration
	MessagesDir   string
	ReplyQueueLen int
}

// MinFlagdLine fits the longest auth line flagd expects: a category, ":::" and 64 hex digits.
const MinFlagdLine = 128

// FlagdConfig configures the scoring authority (cmd/flagd).
type FlagdConfig struct {
	ListenAddr    string
	Key           string
	RedisURL      string
	PointsURL     string
	HouseTeam     string
	AwardInterval time.Duration
	MaxLineBytes  int
}

// Load reads the arena configuration from the environment.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:    ":5388",
		FlagdAddr:     "localhost:6668",
		Game:          "roshambo",
		IdleTimeout:   10 * time.Second,
		MoveTimeout:   2 * time.Second,
		MatchTimeout:  6 * time.Second,
		Pulse:         2 * time.Second,
		MaxPending:    10,
		MaxLineBytes:  4096,
		MaxBadLogins:  3,
		TeamsRefresh:  time.Minute,
		ReplyQueueLen: 64,
	}

	if v := strings.TrimSpace(os.Getenv("FRAY_LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.WSAddr = strings.TrimSpace(os.Getenv("FRAY_WS_ADDR"))
	cfg.StatusAddr = strings.TrimSpace(os.Getenv("FRAY_STATUS_ADDR"))

	if v := strings.TrimSpace(os.Getenv("FLAGD_ADDR")); v != "" {
		cfg.FlagdAddr = v
	}
	cfg.FlagdAuth = strings.TrimSpace(os.Getenv("FLAGD_AUTH"))

	if v := strings.TrimSpace(os.Getenv("FRAY_GAME")); v != "" {
		cfg.Game = strings.ToLower(v)
	}

	var err error
	if cfg.MinPerMatch, err = intEnv("FRAY_MIN_PER_MATCH", cfg.MinPerMatch); err != nil {
		return nil, err
	}
	if cfg.MaxPerMatch, err = intEnv("FRAY_MAX_PER_MATCH", cfg.MaxPerMatch); err != nil {
		return nil, err
	}
	if cfg.IdleTimeout, err = durationEnv("FRAY_IDLE_TIMEOUT", cfg.IdleTimeout); err != nil {
		return nil, err
	}
	if cfg.MoveTimeout, err = durationEnv("FRAY_MOVE_TIMEOUT", cfg.MoveTimeout); err != nil {
		return nil, err
	}
	if cfg.MatchTimeout, err = durationEnv("FRAY_MATCH_TIMEOUT", cfg.MatchTimeout); err != nil {
		return nil, err
	}
	if cfg.Pulse, err = durationEnv("FRAY_PULSE", cfg.Pulse); err != nil {
		return nil, err
	}
	if cfg.MaxPending, err = intEnv("FRAY_MAX_PENDING", cfg.MaxPending); err != nil {
		return nil, err
	}
	if cfg.MaxLineBytes, err = intEnv("FRAY_MAX_LINE", cfg.MaxLineBytes); err != nil {
		return nil, err
	}
	if cfg.MaxBadLogins, err = intEnv("FRAY_MAX_BAD_LOGINS", cfg.MaxBadLogins); err != nil {
		return nil, err
	}
	if cfg.TeamsRefresh, err = durationEnv("TEAMS_REFRESH", cfg.TeamsRefresh); err != nil {
		return nil, err
	}
	if cfg.ReplyQueueLen, err = intEnv("FRAY_REPLY_QUEUE", cfg.ReplyQueueLen); err != nil {
		return nil, err
	}

	cfg.PasswdFile = strings.TrimSpace(os.Getenv("PASSWD_FILE"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if cfg.FlagdAuth == "" {
		return nil, errors.New("FLAGD_AUTH is required")
	}
	if cfg.PasswdFile == "" && cfg.DatabaseURL == "" {
		return nil, errors.New("PASSWD_FILE or DATABASE_URL is required")
	}
	if cfg.MinPerMatch != 0 && cfg.MaxPerMatch != 0 && cfg.MaxPerMatch < cfg.MinPerMatch {
		return nil, fmt.Errorf("FRAY_MAX_PER_MATCH (%d) must be >= FRAY_MIN_PER_MATCH (%d)", cfg.MaxPerMatch, cfg.MinPerMatch)
	}
	if cfg.Pulse <= 0 {
		return nil, errors.New("FRAY_PULSE must be positive")
	}
	return cfg, nil
}

// LoadFlagd reads the scoring authority configuration from the environment.
func LoadFlagd() (*FlagdConfig, error) {
	cfg := &FlagdConfig{
		ListenAddr:    "localhost:6668",
		HouseTeam:     "house",
		AwardInterval: time.Minute,
		MaxLineBytes:  4096,
	}
	if v := strings.TrimSpace(os.Getenv("FLAGD_LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.Key = os.Getenv("FLAGD_KEY")
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.PointsURL = strings.TrimSpace(os.Getenv("POINTS_URL"))
	if v := strings.TrimSpace(os.Getenv("HOUSE_TEAM")); v != "" {
		cfg.HouseTeam = v
	}

	var err error
	if cfg.AwardInterval, err = durationEnv("AWARD_INTERVAL", cfg.AwardInterval); err != nil {
		return nil, err
	}
	if cfg.MaxLineBytes, err = intEnv("FLAGD_MAX_LINE", cfg.MaxLineBytes); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Key) == "" {
		return nil, errors.New("FLAGD_KEY is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.MaxLineBytes < MinFlagdLine {
		return nil, fmt.Errorf("FLAGD_MAX_LINE (%d) must be >= %d to fit an auth line", cfg.MaxLineBytes, MinFlagdLine)
	}
	return cfg, nil
}

func intEnv(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

// durationEnv accepts Go durations ("1500ms") or bare seconds ("10").
func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("%s: negative duration %q", key, v)
		}
		return time.Duration(n * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}
