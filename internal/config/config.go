package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/airnet-dev/airquality-pipeline/internal/aq"
)

type AppConfig struct {
	PurpleAirAPIKey string
	ClarityAPIKey   string
	GeocoderAPIKey  string

	// BoundingBox scopes the PurpleAir synoptic request; nil means worldwide.
	BoundingBox *aq.BoundingBox

	// ClarityFormat optionally requests the extended feed (USFS/USFS2).
	ClarityFormat string

	// Parameter selects the monitor data matrix, e.g. "pm2.5" or "nowcast".
	Parameter string

	// StateCodes/Counties are optional normalizer scoping hints.
	StateCodes []string
	Counties   []string

	// FetchInterval controls how often synoptic data is refreshed.
	FetchInterval time.Duration

	// ParallelChunks dispatches history sub-windows concurrently;
	// RequestDelay spaces sequential requests.
	ParallelChunks bool
	RequestDelay   time.Duration

	// In-memory monitor retention.
	StoreMaxHistory int           // max number of data rows per monitor (0 = unlimited)
	StoreMaxAge     time.Duration // max age of data rows (0 = unlimited)

	// Optional Kafka publishing of refreshed readings.
	KafkaBrokers []string
	KafkaTopic   string

	HTTPTimeout time.Duration
	Port        string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg := &AppConfig{}

	cfg.PurpleAirAPIKey = os.Getenv("PURPLEAIR_API_KEY")
	cfg.ClarityAPIKey = os.Getenv("CLARITY_API_KEY")
	cfg.GeocoderAPIKey = os.Getenv("GEOCODER_API_KEY")
	cfg.ClarityFormat = os.Getenv("CLARITY_FORMAT")
	cfg.Parameter = getenvDefault("PARAMETER", "pm2.5")
	cfg.StateCodes = splitList(os.Getenv("STATE_CODES"))
	cfg.Counties = splitList(os.Getenv("COUNTIES"))

	bbox, err := parseBoundingBox(os.Getenv("BOUNDING_BOX"))
	if err != nil {
		return nil, err
	}
	cfg.BoundingBox = bbox

	interval, err := getenvDuration("FETCH_INTERVAL", "15m")
	if err != nil {
		return nil, err
	}
	cfg.FetchInterval = interval

	cfg.ParallelChunks = getenvDefault("PARALLEL_CHUNKS", "false") == "true"

	delay, err := getenvDuration("REQUEST_DELAY", "500ms")
	if err != nil {
		return nil, err
	}
	cfg.RequestDelay = delay

	// Roughly a week of hourly snapshots.
	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 168)

	maxAge, err := getenvDuration("STORE_MAX_AGE", "168h")
	if err != nil {
		return nil, err
	}
	cfg.StoreMaxAge = maxAge

	cfg.KafkaBrokers = splitList(os.Getenv("KAFKA_BROKERS"))
	cfg.KafkaTopic = getenvDefault("KAFKA_TOPIC", "aq-readings")

	timeout, err := getenvDuration("HTTP_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	cfg.HTTPTimeout = timeout

	cfg.Port = getenvDefault("PORT", "8080")

	return cfg, nil
}

// parseBoundingBox accepts "west,south,east,north" in decimal degrees; the
// corners are normalized so west<east and south<north.
func parseBoundingBox(s string) (*aq.BoundingBox, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("invalid BOUNDING_BOX %q: want west,south,east,north", s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid BOUNDING_BOX %q: %w", s, err)
		}
		vals[i] = v
	}
	box := aq.BoundingBox{West: vals[0], South: vals[1], East: vals[2], North: vals[3]}.Normalized()
	return &box, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
