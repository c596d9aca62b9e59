package core

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"gwi.com/wellbeing-companion/internal/store"
)

const (
	GranularityHour  = "hour"
	GranularityDay   = "day"
	GranularityWeek  = "week"
	GranularityMonth = "month"
	GranularityYear  = "year"

	SensitiveSeriesName = "Total Sensitive Word Occurrences"

	maxTrendBuckets = 10000
)

// TrendSeries is one named data series aligned with SensitiveTrend.Labels.
type TrendSeries struct {
	Name string  `json:"name"`
	Data []int64 `json:"data"`
}

// SensitiveTrend is a zero-filled, bucketed occurrence count.
type SensitiveTrend struct {
	Granularity string        `json:"granularity"`
	Labels      []string      `json:"labels"`
	Series      []TrendSeries `json:"series"`
}

type AnalyticsService struct {
	store store.AnalyticsStore
}

func NewAnalyticsService(s store.AnalyticsStore) *AnalyticsService {
	return &AnalyticsService{store: s}
}

// SensitiveTrend buckets all sensitive-word occurrences in [start, end).
// Dates are YYYY-MM-DD or RFC 3339 and buckets are computed in UTC. An
// empty or unknown granularity is chosen from the range length.
func (s *AnalyticsService) SensitiveTrend(ctx context.Context, startStr, endStr, granularity string) (*SensitiveTrend, error) {
	if strings.TrimSpace(startStr) == "" || strings.TrimSpace(endStr) == "" {
		return nil, validationErrorf("missing required params: start, end")
	}
	start, err := parseDate(startStr)
	if err != nil {
		return nil, validationErrorf("invalid start %q", startStr)
	}
	end, err := parseDate(endStr)
	if err != nil {
		return nil, validationErrorf("invalid end %q", endStr)
	}
	if !end.After(start) {
		return nil, validationErrorf("end must be after start")
	}

	g := normalizeGranularity(granularity)
	if g == "" {
		g = autoGranularity(start, end)
	}

	var buckets []time.Time
	for b := bucketStart(start, g); b.Before(end); b = nextBucket(b, g) {
		if len(buckets) == maxTrendBuckets {
			return nil, validationErrorf("range is too large for %s granularity", g)
		}
		buckets = append(buckets, b)
	}

	occurrences, err := s.store.ListSensitiveOccurrences(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	index := make(map[int64]int, len(buckets))
	labels := make([]string, len(buckets))
	for i, b := range buckets {
		index[b.Unix()] = i
		labels[i] = bucketLabel(b, g)
	}
	data := make([]int64, len(buckets))
	for _, at := range occurrences {
		if i, ok := index[bucketStart(at, g).Unix()]; ok {
			data[i]++
		}
	}

	return &SensitiveTrend{
		Granularity: g,
		Labels:      labels,
		Series:      []TrendSeries{{Name: SensitiveSeriesName, Data: data}},
	}, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func normalizeGranularity(g string) string {
	switch g = strings.ToLower(strings.TrimSpace(g)); g {
	case GranularityHour, GranularityDay, GranularityWeek, GranularityMonth, GranularityYear:
		return g
	default:
		return ""
	}
}

func autoGranularity(start, end time.Time) string {
	days := math.Ceil(end.Sub(start).Hours() / 24)
	switch {
	case days <= 30:
		return GranularityDay
	case days <= 120:
		return GranularityWeek
	case days <= 730:
		return GranularityMonth
	default:
		return GranularityYear
	}
}

// bucketStart truncates t to the start of its bucket. Weeks start on Monday.
func bucketStart(t time.Time, g string) time.Time {
	t = t.UTC()
	y, m, d := t.Date()
	switch g {
	case GranularityHour:
		return time.Date(y, m, d, t.Hour(), 0, 0, 0, time.UTC)
	case GranularityWeek:
		offset := (int(t.Weekday()) + 6) % 7
		return time.Date(y, m, d-offset, 0, 0, 0, 0, time.UTC)
	case GranularityMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	case GranularityYear:
		return time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
}

func nextBucket(t time.Time, g string) time.Time {
	switch g {
	case GranularityHour:
		return t.Add(time.Hour)
	case GranularityWeek:
		return t.AddDate(0, 0, 7)
	case GranularityMonth:
		return t.AddDate(0, 1, 0)
	case GranularityYear:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 0, 1)
	}
}

func bucketLabel(t time.Time, g string) string {
	switch g {
	case GranularityHour:
		return t.Format("2006-01-02 15:00")
	case GranularityWeek:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-%02d", year, week)
	case GranularityMonth:
		return t.Format("2006-01")
	case GranularityYear:
		return t.Format("2006")
	default:
		return t.Format("2006-01-02")
	}
}
