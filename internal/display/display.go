// Package display reads the live display mode and keeps the monitor history
// table in step with it.
package display

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"stimlog/internal/config"
	"stimlog/internal/storage"
)

// ErrNoDisplay is returned when no connected display can be found.
var ErrNoDisplay = errors.New("no connected display")

// Querier reports the current mode of the primary display.
type Querier interface {
	Current(ctx context.Context) (storage.MonitorProfile, error)
}

// History is the monitor table as seen by Reconcile.
type History interface {
	LatestMonitor(ctx context.Context) (storage.MonitorProfile, bool, error)
	InsertMonitor(ctx context.Context, m storage.MonitorProfile) error
}

// Static reports a fixed mode.
type Static storage.MonitorProfile

func (s Static) Current(context.Context) (storage.MonitorProfile, error) {
	return storage.MonitorProfile(s), nil
}

// NewQuerier builds the querier selected by cfg. It returns nil when display
// tracking is disabled.
func NewQuerier(cfg config.DisplayConfig) Querier {
	switch cfg.Source {
	case "static":
		return Static{
			Width:       cfg.Static.Width,
			Height:      cfg.Static.Height,
			RefreshRate: cfg.Static.RefreshRate,
			PixelDepth:  cfg.Static.PixelDepth,
		}
	case "none":
		return nil
	default:
		return &Xrandr{Timeout: cfg.Timeout, DefaultDepth: cfg.DefaultDepth}
	}
}

// Reconcile appends the live mode to h when it differs from the latest stored
// row, or when there is no stored row. It reports whether a row was written.
func Reconcile(ctx context.Context, h History, q Querier) (bool, error) {
	live, err := q.Current(ctx)
	if err != nil {
		return false, fmt.Errorf("querying display: %w", err)
	}

	stored, ok, err := h.LatestMonitor(ctx)
	if err != nil {
		return false, err
	}
	if ok && stored.Equal(live) {
		log.Debug().
			Int("width", live.Width).
			Int("height", live.Height).
			Msg("display unchanged")
		return false, nil
	}

	if err := h.InsertMonitor(ctx, live); err != nil {
		return false, err
	}

	log.Info().
		Int("width", live.Width).
		Int("height", live.Height).
		Int("refresh_rate", live.RefreshRate).
		Int("pixel_depth", live.PixelDepth).
		Bool("first", !ok).
		Msg("display change recorded")
	return true, nil
}
