package display

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"stimlog/internal/storage"
)

var (
	outputRe = regexp.MustCompile(`^(\S+) connected( primary)?`)
	modeRe   = regexp.MustCompile(`^\s+(\d+)x(\d+)\S*\s+(.*)$`)
	rateRe   = regexp.MustCompile(`([\d.]+)\*`)
	depthRe  = regexp.MustCompile(`depth of root window:\s+(\d+) planes`)
)

// Xrandr queries the X server with the xrandr and xdpyinfo tools.
type Xrandr struct {
	Timeout      time.Duration
	DefaultDepth int // used when xdpyinfo is unavailable

	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func (x *Xrandr) Current(ctx context.Context) (storage.MonitorProfile, error) {
	if x.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.Timeout)
		defer cancel()
	}
	run := x.run
	if run == nil {
		run = runCommand
	}

	out, err := run(ctx, "xrandr", "--current")
	if err != nil {
		return storage.MonitorProfile{}, fmt.Errorf("running xrandr: %w", err)
	}
	m, err := parseXrandr(out)
	if err != nil {
		return storage.MonitorProfile{}, err
	}

	m.PixelDepth = x.DefaultDepth
	out, err = run(ctx, "xdpyinfo")
	if err != nil {
		log.Warn().Err(err).Int("depth", x.DefaultDepth).Msg("xdpyinfo failed, assuming default pixel depth")
		return m, nil
	}
	if depth, err := parseDepth(out); err == nil {
		m.PixelDepth = depth
	} else {
		log.Warn().Err(err).Int("depth", x.DefaultDepth).Msg("pixel depth not reported, assuming default")
	}
	return m, nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output() // #nosec G204 -- fixed tool names
}

// parseXrandr extracts the active mode of the primary output, or of the first
// connected output when none is marked primary.
func parseXrandr(out []byte) (storage.MonitorProfile, error) {
	var (
		best     storage.MonitorProfile
		found    bool
		inOutput bool
		primary  bool
	)

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()

		if !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
			m := outputRe.FindStringSubmatch(line)
			inOutput = m != nil
			primary = m != nil && m[2] != ""
			continue
		}
		if !inOutput {
			continue
		}

		mm := modeRe.FindStringSubmatch(line)
		if mm == nil {
			continue
		}
		rm := rateRe.FindStringSubmatch(mm[3])
		if rm == nil {
			continue
		}

		w, _ := strconv.Atoi(mm[1])
		h, _ := strconv.Atoi(mm[2])
		rate, err := strconv.ParseFloat(rm[1], 64)
		if err != nil {
			continue
		}
		mode := storage.MonitorProfile{Width: w, Height: h, RefreshRate: int(math.Round(rate))}

		if primary {
			return mode, nil
		}
		if !found {
			best, found = mode, true
		}
	}
	if err := sc.Err(); err != nil {
		return storage.MonitorProfile{}, fmt.Errorf("reading xrandr output: %w", err)
	}
	if !found {
		return storage.MonitorProfile{}, ErrNoDisplay
	}
	return best, nil
}

func parseDepth(out []byte) (int, error) {
	m := depthRe.FindSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("no root window depth in xdpyinfo output")
	}
	return strconv.Atoi(string(m[1]))
}
