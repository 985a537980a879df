package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Overview summarizes traffic and admission decisions over a time window.
type Overview struct {
	WindowSeconds   int64   `json:"window_seconds"`
	TotalRequests   int64   `json:"total_requests"`
	AllowedRequests int64   `json:"allowed_requests"`
	DeniedRequests  int64   `json:"denied_requests"`
	UniqueClients   int64   `json:"unique_clients"`
	DenyRate        float64 `json:"deny_rate"`
}

// TopDeniedClient represents a client with the highest denied request count.
type TopDeniedClient struct {
	ClientKey   string `json:"client_key"`
	DeniedCount int64  `json:"denied_count"`
}

// TierStats summarizes behavior for a specific tier over a time window.
type TierStats struct {
	Tier            string  `json:"tier"`
	WindowSeconds   int64   `json:"window_seconds"`
	TotalRequests   int64   `json:"total_requests"`
	AllowedRequests int64   `json:"allowed_requests"`
	DeniedRequests  int64   `json:"denied_requests"`
	DenyRate        float64 `json:"deny_rate"`
	UniqueClients   int64   `json:"unique_clients"`
}

// TimelinePoint is a single bucket in an analytics timeline series.
type TimelinePoint struct {
	BucketStart time.Time `json:"bucket_start"`
	Allowed     int64     `json:"allowed"`
	Denied      int64     `json:"denied"`
	Total       int64     `json:"total"`
}

// QueryService provides read-only analytics queries backed by PostgreSQL.
type QueryService struct {
	db *sql.DB
}

// NewQueryService constructs an analytics query service.
func NewQueryService(db *sql.DB) (*QueryService, error) {
	if db == nil {
		return nil, fmt.Errorf("analytics: query service requires database connection")
	}

	return &QueryService{db: db}, nil
}

// GetOverview returns top-level traffic metrics for a time window.
func (s *QueryService) GetOverview(ctx context.Context, window time.Duration) (Overview, error) {
	if window <= 0 {
		return Overview{}, fmt.Errorf("analytics: window must be greater than zero")
	}

	since := time.Now().Add(-window)

	var out Overview
	out.WindowSeconds = int64(window.Seconds())

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) AS total_requests,
			COALESCE(SUM(CASE WHEN allowed THEN 1 ELSE 0 END), 0) AS allowed_requests,
			COALESCE(SUM(CASE WHEN NOT allowed THEN 1 ELSE 0 END), 0) AS denied_requests,
			COUNT(DISTINCT client_key) AS unique_clients
		FROM admission_events
		WHERE timestamp >= $1
	`, since).Scan(
		&out.TotalRequests,
		&out.AllowedRequests,
		&out.DeniedRequests,
		&out.UniqueClients,
	)
	if err != nil {
		return Overview{}, fmt.Errorf("analytics: overview query failed: %w", err)
	}

	if out.TotalRequests > 0 {
		out.DenyRate = float64(out.DeniedRequests) / float64(out.TotalRequests)
	}

	return out, nil
}

// GetTopDenied returns clients with highest denied request counts.
func (s *QueryService) GetTopDenied(ctx context.Context, window time.Duration, limit int) ([]TopDeniedClient, error) {
	if window <= 0 {
		return nil, fmt.Errorf("analytics: window must be greater than zero")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("analytics: limit must be greater than zero")
	}

	since := time.Now().Add(-window)

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			client_key,
			COUNT(*) AS denied_count
		FROM admission_events
		WHERE allowed = FALSE AND timestamp >= $1
		GROUP BY client_key
		ORDER BY denied_count DESC, client_key ASC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("analytics: top-denied query failed: %w", err)
	}
	defer rows.Close()

	out := make([]TopDeniedClient, 0, limit)
	for rows.Next() {
		var item TopDeniedClient
		if scanErr := rows.Scan(&item.ClientKey, &item.DeniedCount); scanErr != nil {
			return nil, fmt.Errorf("analytics: failed scanning top-denied row: %w", scanErr)
		}
		out = append(out, item)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("analytics: top-denied rows iteration failed: %w", rowsErr)
	}

	return out, nil
}

// GetTierStats returns summary statistics for a specific tier.
func (s *QueryService) GetTierStats(ctx context.Context, tierName string, window time.Duration) (TierStats, error) {
	if tierName == "" {
		return TierStats{}, fmt.Errorf("analytics: tier name is required")
	}
	if window <= 0 {
		return TierStats{}, fmt.Errorf("analytics: window must be greater than zero")
	}

	since := time.Now().Add(-window)

	out := TierStats{
		Tier:          tierName,
		WindowSeconds: int64(window.Seconds()),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) AS total_requests,
			COALESCE(SUM(CASE WHEN allowed THEN 1 ELSE 0 END), 0) AS allowed_requests,
			COALESCE(SUM(CASE WHEN NOT allowed THEN 1 ELSE 0 END), 0) AS denied_requests,
			COUNT(DISTINCT client_key) AS unique_clients
		FROM admission_events
		WHERE tier = $1 AND timestamp >= $2
	`, tierName, since).Scan(
		&out.TotalRequests,
		&out.AllowedRequests,
		&out.DeniedRequests,
		&out.UniqueClients,
	)
	if err != nil {
		return TierStats{}, fmt.Errorf("analytics: tier stats query failed: %w", err)
	}

	if out.TotalRequests > 0 {
		out.DenyRate = float64(out.DeniedRequests) / float64(out.TotalRequests)
	}

	return out, nil
}

// GetTimeline returns allowed/denied request counts bucketed by time interval.
func (s *QueryService) GetTimeline(ctx context.Context, window, bucket time.Duration) ([]TimelinePoint, error) {
	if window <= 0 {
		return nil, fmt.Errorf("analytics: window must be greater than zero")
	}
	if bucket <= 0 {
		return nil, fmt.Errorf("analytics: bucket must be greater than zero")
	}

	since := time.Now().Add(-window)
	bucketSeconds := int64(bucket.Seconds())

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			to_timestamp(FLOOR(EXTRACT(EPOCH FROM timestamp) / $1) * $1)::timestamptz AS bucket_start,
			COALESCE(SUM(CASE WHEN allowed THEN 1 ELSE 0 END), 0) AS allowed_count,
			COALESCE(SUM(CASE WHEN NOT allowed THEN 1 ELSE 0 END), 0) AS denied_count
		FROM admission_events
		WHERE timestamp >= $2
		GROUP BY bucket_start
		ORDER BY bucket_start ASC
	`, bucketSeconds, since)
	if err != nil {
		return nil, fmt.Errorf("analytics: timeline query failed: %w", err)
	}
	defer rows.Close()

	out := make([]TimelinePoint, 0)
	for rows.Next() {
		var point TimelinePoint
		if scanErr := rows.Scan(&point.BucketStart, &point.Allowed, &point.Denied); scanErr != nil {
			return nil, fmt.Errorf("analytics: failed scanning timeline row: %w", scanErr)
		}
		point.Total = point.Allowed + point.Denied
		out = append(out, point)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("analytics: timeline rows iteration failed: %w", rowsErr)
	}

	return out, nil
}
