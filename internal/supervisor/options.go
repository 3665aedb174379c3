package supervisor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// StartOptions are the caller-controlled worker arguments.
type StartOptions struct {
	// TargetFilter limits the crawl to one site (passed as --brand).
	TargetFilter string `json:"brand,omitempty"`
	// MaxPages caps the crawl; zero means unlimited.
	MaxPages int `json:"maxPages"`
	// DownloadAssets asks the worker to fetch page assets.
	DownloadAssets bool `json:"downloadAssets,omitempty"`
	// WaitSeconds is the per-page settle time.
	WaitSeconds *float64 `json:"wait,omitempty"`
	// DelaySeconds is the pause between pages.
	DelaySeconds *float64 `json:"delay,omitempty"`
}

// enforcedFlags are always passed and cannot be overridden by callers.
var enforcedFlags = []string{
	"--progressive",
	"--stealth",
	"--captureNetwork",
	"--captureConsole",
	"--headless",
}

// Validate rejects options the worker would misinterpret.
func (o StartOptions) Validate() error {
	var errs []error
	if o.MaxPages < 0 {
		errs = append(errs, errors.New("maxPages must be >= 0"))
	}
	if o.WaitSeconds != nil && *o.WaitSeconds < 0 {
		errs = append(errs, errors.New("wait must be >= 0"))
	}
	if o.DelaySeconds != nil && *o.DelaySeconds < 0 {
		errs = append(errs, errors.New("delay must be >= 0"))
	}
	if f := strings.TrimSpace(o.TargetFilter); f != "" {
		if strings.HasPrefix(f, "-") || strings.ContainsAny(f, " \t\r\n/\\") {
			errs = append(errs, fmt.Errorf("brand %q is not a valid site name", o.TargetFilter))
		}
	}
	return errors.Join(errs...)
}

// BuildArgs assembles the worker argv (script first). Out-of-range values are
// clamped rather than rejected.
func BuildArgs(script string, opts StartOptions) []string {
	maxPages := max(opts.MaxPages, 0)
	args := make([]string, 0, 2+len(enforcedFlags)+4)
	args = append(args, script, "--maxPages="+strconv.Itoa(maxPages))
	args = append(args, enforcedFlags...)
	if f := strings.TrimSpace(opts.TargetFilter); f != "" {
		args = append(args, "--brand="+f)
	}
	if opts.DownloadAssets {
		args = append(args, "--downloadAssets")
	}
	if opts.WaitSeconds != nil && *opts.WaitSeconds >= 0 {
		args = append(args, "--wait="+formatSeconds(*opts.WaitSeconds))
	}
	if opts.DelaySeconds != nil && *opts.DelaySeconds >= 0 {
		args = append(args, "--delay="+formatSeconds(*opts.DelaySeconds))
	}
	return args
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (o StartOptions) clone() *StartOptions {
	c := o
	if o.WaitSeconds != nil {
		w := *o.WaitSeconds
		c.WaitSeconds = &w
	}
	if o.DelaySeconds != nil {
		d := *o.DelaySeconds
		c.DelaySeconds = &d
	}
	return &c
}
