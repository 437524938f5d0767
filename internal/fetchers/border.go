package fetchers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultBorderAPIURL is the CBP border wait times feed.
const DefaultBorderAPIURL = "https://bwt.cbp.gov/api/bwtnew"

// feedSource labels records with where the data came from.
const feedSource = "CBP Border Wait Times"

// port mirrors the subset of the CBP feed the gateway exposes. The upstream
// feed reports numbers as strings.
type port struct {
	PortName     string `json:"port_name"`
	CrossingName string `json:"crossing_name"`
	PortStatus   string `json:"port_status"`
	Date         string `json:"date"`
	Time         string `json:"time"`

	PassengerLanes struct {
		StandardLanes struct {
			OperationalStatus string `json:"operational_status"`
			DelayMinutes      string `json:"delay_minutes"`
			LanesOpen         string `json:"lanes_open"`
		} `json:"standard_lanes"`
	} `json:"passenger_vehicle_lanes"`
}

// Crossing is one entry of the public crossing directory.
type Crossing struct {
	PortName     string `json:"port_name"`
	CrossingName string `json:"crossing_name"`
	PortStatus   string `json:"port_status"`
}

// Border fetches wait times from the CBP feed, with an optional Redis cache
// in front of it. The full feed is cached under one key since upstream always
// returns every crossing at once.
type Border struct {
	apiURL string
	client *http.Client
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewBorder(apiURL string, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *Border {
	if apiURL == "" {
		apiURL = DefaultBorderAPIURL
	}
	return &Border{
		apiURL: apiURL,
		client: &http.Client{Timeout: 15 * time.Second},
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

const cacheKey = "border_wait:feed"

func (b *Border) feed(ctx context.Context) ([]port, error) {
	if b.cache != nil {
		cached, err := b.cache.Get(ctx, cacheKey).Bytes()
		if err == nil {
			var ports []port
			if err := json.Unmarshal(cached, &ports); err == nil {
				return ports, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			b.logger.Warn("cache read failed", "error", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.apiURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch border feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("border feed returned status %d", resp.StatusCode)
	}

	var ports []port
	if err := json.NewDecoder(resp.Body).Decode(&ports); err != nil {
		return nil, fmt.Errorf("decode border feed: %w", err)
	}

	if b.cache != nil {
		if raw, err := json.Marshal(ports); err == nil {
			if err := b.cache.Set(ctx, cacheKey, raw, b.ttl).Err(); err != nil {
				b.logger.Warn("cache write failed", "error", err)
			}
		}
	}
	return ports, nil
}

// Fetch implements the subscription fetcher contract. Params: "crossing"
// (required, matched case-insensitively against the port or crossing name).
// Feed failures and unknown crossings come back as data-level error records
// ({"error": ...}) rather than Go errors, so callers treat both uniformly.
func (b *Border) Fetch(ctx context.Context, params map[string]any) (map[string]any, error) {
	name, _ := params["crossing"].(string)
	if name == "" {
		return nil, errors.New("param \"crossing\" is required")
	}

	ports, err := b.feed(ctx)
	if err != nil {
		b.logger.Warn("border feed unavailable", "error", err)
		return map[string]any{"error": fmt.Sprintf("border data unavailable: %v", err)}, nil
	}

	for _, p := range ports {
		if matchesCrossing(p, name) {
			return recordFor(p), nil
		}
	}
	return map[string]any{"error": "unknown crossing: " + name}, nil
}

// ListCrossings returns the directory of known crossings.
func (b *Border) ListCrossings(ctx context.Context) ([]Crossing, error) {
	ports, err := b.feed(ctx)
	if err != nil {
		return nil, err
	}
	crossings := make([]Crossing, 0, len(ports))
	for _, p := range ports {
		crossings = append(crossings, Crossing{
			PortName:     p.PortName,
			CrossingName: p.CrossingName,
			PortStatus:   p.PortStatus,
		})
	}
	return crossings, nil
}

// recordFor flattens one feed entry into the record conditions evaluate
// against. wait_time_minutes and lanes_open become numbers; a blank delay
// reads as 0.
func recordFor(p port) map[string]any {
	name := p.PortName
	if p.CrossingName != "" {
		name = p.PortName + " - " + p.CrossingName
	}
	return map[string]any{
		"crossing":          name,
		"specific_lane":     "standard",
		"wait_time_minutes": parseNumber(p.PassengerLanes.StandardLanes.DelayMinutes),
		"lanes_open":        parseNumber(p.PassengerLanes.StandardLanes.LanesOpen),
		"status":            p.PortStatus,
		"last_updated":      strings.TrimSpace(p.Date + " " + p.Time),
		"source":            feedSource,
		"verified":          true,
	}
}

func parseNumber(s string) float64 {
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return n
}

// matchesCrossing compares the requested name loosely against the port name,
// the crossing name, or both combined: case-insensitive, spaces and
// underscores interchangeable, prefix accepted so "san_ysidro" finds
// "San Ysidro".
func matchesCrossing(p port, requested string) bool {
	r := normalizeName(requested)
	for _, candidate := range []string{p.PortName, p.CrossingName, p.PortName + " " + p.CrossingName} {
		a := normalizeName(candidate)
		if a != "" && (a == r || strings.HasPrefix(a, r)) {
			return true
		}
	}
	return false
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, "_", " ")
}
