package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/camden-git/facesentry/models"
)

// Counts are the persisted totals StatsHub seeds its counters from.
type Counts struct {
	TotalCameras         int64 `json:"total_cameras"`
	RunningCameras       int64 `json:"running_cameras"`
	TotalDetections      int64 `json:"total_detections"`
	DetectionsToday      int64 `json:"detections_today"`
	TotalAlerts          int64 `json:"total_alerts"`
	UnacknowledgedAlerts int64 `json:"unacknowledged_alerts"`
	WatchlistCount       int64 `json:"watchlist_count"`
}

// Counters runs the count queries directly against the connection pool.
type Counters struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

// NewCounters builds count queries with the placeholder format of the driver.
func NewCounters(db *sql.DB, driver string) *Counters {
	var format sq.PlaceholderFormat = sq.Question
	if driver == DriverPostgres || driver == "postgresql" {
		format = sq.Dollar
	}
	return &Counters{db: db, builder: sq.StatementBuilder.PlaceholderFormat(format)}
}

func (c *Counters) count(ctx context.Context, table string, where sq.Sqlizer) (int64, error) {
	query := c.builder.Select("COUNT(*)").From(table)
	if where != nil {
		query = query.Where(where)
	}
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build count query for %s: %w", table, err)
	}
	var n int64
	if err := c.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// CountCameras returns the number of configured cameras.
func (c *Counters) CountCameras(ctx context.Context) (int64, error) {
	return c.count(ctx, "cameras", nil)
}

// CountRunningCameras returns the number of cameras whose desired state is running.
func (c *Counters) CountRunningCameras(ctx context.Context) (int64, error) {
	return c.count(ctx, "cameras", sq.Eq{"desired_state": string(models.DesiredRunning)})
}

// CountDetections returns the size of the detection log.
func (c *Counters) CountDetections(ctx context.Context) (int64, error) {
	return c.count(ctx, "detections", nil)
}

// CountDetectionsSince returns detections logged at or after since.
func (c *Counters) CountDetectionsSince(ctx context.Context, since time.Time) (int64, error) {
	return c.count(ctx, "detections", sq.GtOrEq{"timestamp": since})
}

// CountAlerts returns the number of alerts ever created.
func (c *Counters) CountAlerts(ctx context.Context) (int64, error) {
	return c.count(ctx, "alerts", nil)
}

// CountUnacknowledgedAlerts returns alerts still waiting for an operator.
func (c *Counters) CountUnacknowledgedAlerts(ctx context.Context) (int64, error) {
	return c.count(ctx, "alerts", sq.Eq{"acknowledged": false})
}

// CountWatchlist returns the watchlist size.
func (c *Counters) CountWatchlist(ctx context.Context) (int64, error) {
	return c.count(ctx, "watchlist", nil)
}

// Load runs every count query. today is the start of the current day.
func (c *Counters) Load(ctx context.Context, today time.Time) (Counts, error) {
	var counts Counts
	var err error
	if counts.TotalCameras, err = c.CountCameras(ctx); err != nil {
		return counts, err
	}
	if counts.RunningCameras, err = c.CountRunningCameras(ctx); err != nil {
		return counts, err
	}
	if counts.TotalDetections, err = c.CountDetections(ctx); err != nil {
		return counts, err
	}
	if counts.DetectionsToday, err = c.CountDetectionsSince(ctx, today); err != nil {
		return counts, err
	}
	if counts.TotalAlerts, err = c.CountAlerts(ctx); err != nil {
		return counts, err
	}
	if counts.UnacknowledgedAlerts, err = c.CountUnacknowledgedAlerts(ctx); err != nil {
		return counts, err
	}
	if counts.WatchlistCount, err = c.CountWatchlist(ctx); err != nil {
		return counts, err
	}
	return counts, nil
}
