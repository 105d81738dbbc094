// Package marker decodes 2-D markers from camera frames, extracts plant
// IDs, and enforces the per-ID scan cooldown. The symbol decoder itself is
// a plugin; this package owns region selection, validation, annotation and
// debounce.
package marker

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/oriys/strix/internal/frame"
)

// Decoded is one raw decode produced by a Decoder, in region-local
// coordinates.
type Decoded struct {
	Text    string
	BBox    frame.Rect
	Corners *frame.Quad
}

// Decoder is the pluggable symbol decoder. A decode error is treated as
// zero results.
type Decoder interface {
	Decode(f *frame.BGR) ([]Decoded, error)
}

// Region selects the part of the frame to scan.
type Region string

const (
	RegionFull   Region = "full"
	RegionCenter Region = "center" // middle 50% both axes
	RegionTop    Region = "top"
	RegionBottom Region = "bottom"
	RegionCustom Region = "custom"
)

// Validation holds optional per-call acceptance rules for decoded text.
type Validation struct {
	Pattern        *regexp.Regexp
	RequiredPrefix string
	MinLength      int
	MaxLength      int
}

// Options tune a single Detect call.
type Options struct {
	ScanRegion   Region
	CustomRegion frame.Rect
	AllowMulti   bool
	MaxResults   int
	Validation   *Validation
	// Preprocess, when set, is tried once if the initial pass decodes
	// nothing. DefaultPreprocess is the usual choice.
	Preprocess func(*frame.BGR) *frame.BGR
}

// Observation is one eligible decoded marker in full-frame coordinates.
// Crop is a base64 JPEG of the marker region with a small margin, taken
// before annotation; Size is its "WxH" pixel dimensions.
type Observation struct {
	PlantID     *int        `json:"plant_id"`
	BBox        frame.Rect  `json:"bbox"`
	Corners     *frame.Quad `json:"corners,omitempty"`
	DecodedText string      `json:"data"`
	Crop        string      `json:"crop,omitempty"`
	Size        string      `json:"size,omitempty"`
	SeenAt      time.Time   `json:"-"`
}

// CooldownStatus is the wire shape for get_marker_cooldown_status.
type CooldownStatus struct {
	CooldownSeconds   int         `json:"cooldown_seconds"`
	ActiveCooldowns   map[int]int `json:"active_cooldowns"` // plant id -> remaining seconds
	TotalDetections   int         `json:"total_detections"`
	BlockedDetections int         `json:"blocked_detections"`
}

var plantIDPattern = regexp.MustCompile(`(?i)(plant|植株|ID)[-_:]?(\d+)`)
var pureDigits = regexp.MustCompile(`^\d+$`)

// ExtractPlantID parses a decoded string into a plant ID: prefix pattern
// first, pure-integer fallback second. nil means no ID.
func ExtractPlantID(text string) *int {
	if m := plantIDPattern.FindStringSubmatch(text); m != nil {
		if id, err := strconv.Atoi(m[2]); err == nil {
			return &id
		}
	}
	if pureDigits.MatchString(text) {
		if id, err := strconv.Atoi(text); err == nil {
			return &id
		}
	}
	return nil
}

// Detector decodes markers and debounces repeat reads of the same plant ID.
type Detector struct {
	mu        sync.Mutex
	dec       Decoder
	cooldown  time.Duration
	cooldowns map[int]time.Time

	totalDetections   int
	blockedDetections int

	now func() time.Time
}

// New creates a Detector with the given per-ID cooldown.
func New(dec Decoder, cooldown time.Duration) *Detector {
	return &Detector{
		dec:       dec,
		cooldown:  cooldown,
		cooldowns: make(map[int]time.Time),
		now:       time.Now,
	}
}

// SetDecoder installs or replaces the symbol decoder at runtime.
func (d *Detector) SetDecoder(dec Decoder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dec = dec
}

// Detect scans the frame, annotates it in place and returns the eligible
// observations. Markers in cooldown or failing validation are annotated in
// their distinct colors but excluded from the result. With no decoder
// installed every frame decodes to nothing.
func (d *Detector) Detect(f *frame.BGR, opts Options) (*frame.BGR, []Observation) {
	d.mu.Lock()
	dec := d.dec
	d.mu.Unlock()
	if dec == nil {
		return f, nil
	}

	region := scanRegion(opts, f.Width, f.Height)

	scan := f
	offset := frame.Rect{}
	if region != (frame.Rect{X: 0, Y: 0, W: f.Width, H: f.Height}) {
		scan = f.Crop(region)
		offset = region
	}

	decoded, err := dec.Decode(scan)
	if err != nil {
		decoded = nil
	}
	if len(decoded) == 0 && opts.Preprocess != nil {
		// One fallback pass on a preprocessed copy, never more.
		if retry, retryErr := dec.Decode(opts.Preprocess(scan)); retryErr == nil {
			decoded = retry
		}
	}

	if !opts.AllowMulti && len(decoded) > 1 {
		decoded = decoded[:1]
	}
	if opts.MaxResults > 0 && len(decoded) > opts.MaxResults {
		decoded = decoded[:opts.MaxResults]
	}

	now := d.now()
	var results []Observation
	for _, dec := range decoded {
		bbox := frame.Rect{
			X: dec.BBox.X + offset.X,
			Y: dec.BBox.Y + offset.Y,
			W: dec.BBox.W,
			H: dec.BBox.H,
		}
		var corners *frame.Quad
		if dec.Corners != nil {
			q := *dec.Corners
			for i := range q {
				q[i][0] += offset.X
				q[i][1] += offset.Y
			}
			corners = &q
		}

		d.mu.Lock()
		d.totalDetections++
		d.mu.Unlock()

		if opts.Validation != nil && !validate(dec.Text, opts.Validation) {
			f.DrawRect(bbox, frame.ColorInvalid, 2)
			continue
		}

		id := ExtractPlantID(dec.Text)
		if id != nil && d.inCooldown(*id, now) {
			f.DrawRect(bbox, frame.ColorCooling, 2)
			d.mu.Lock()
			d.blockedDetections++
			d.mu.Unlock()
			continue
		}
		if id != nil {
			d.mu.Lock()
			d.cooldowns[*id] = now.Add(d.cooldown)
			d.mu.Unlock()
		}

		crop, size := cropJPEG(f, bbox)
		f.DrawRect(bbox, frame.ColorEligible, 2)
		results = append(results, Observation{
			PlantID:     id,
			BBox:        bbox,
			Corners:     corners,
			DecodedText: dec.Text,
			Crop:        crop,
			Size:        size,
			SeenAt:      now,
		})
	}
	return f, results
}

const cropMargin = 10
const cropJPEGQuality = 80

// cropJPEG extracts the marker region (plus margin) from the not-yet
// annotated frame as a base64 JPEG. Encoding failures yield an empty crop.
func cropJPEG(f *frame.BGR, bbox frame.Rect) (crop, size string) {
	region := frame.Rect{
		X: bbox.X - cropMargin,
		Y: bbox.Y - cropMargin,
		W: bbox.W + 2*cropMargin,
		H: bbox.H + 2*cropMargin,
	}.Clip(f.Width, f.Height)
	if region.Empty() {
		return "", ""
	}
	data, err := f.Crop(region).ToRGB().EncodeJPEG(cropJPEGQuality)
	if err != nil {
		return "", ""
	}
	return base64.StdEncoding.EncodeToString(data),
		fmt.Sprintf("%dx%d", region.W, region.H)
}

func (d *Detector) inCooldown(id int, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	expires, ok := d.cooldowns[id]
	if !ok {
		return false
	}
	if now.After(expires) {
		delete(d.cooldowns, id)
		return false
	}
	return true
}

func validate(text string, v *Validation) bool {
	if v.Pattern != nil && !v.Pattern.MatchString(text) {
		return false
	}
	if v.RequiredPrefix != "" && len(text) >= len(v.RequiredPrefix) &&
		text[:len(v.RequiredPrefix)] != v.RequiredPrefix {
		return false
	}
	if v.RequiredPrefix != "" && len(text) < len(v.RequiredPrefix) {
		return false
	}
	if v.MinLength > 0 && len(text) < v.MinLength {
		return false
	}
	if v.MaxLength > 0 && len(text) > v.MaxLength {
		return false
	}
	return true
}

func scanRegion(opts Options, width, height int) frame.Rect {
	switch opts.ScanRegion {
	case RegionCenter:
		return frame.Rect{X: width / 4, Y: height / 4, W: width / 2, H: height / 2}
	case RegionTop:
		return frame.Rect{X: 0, Y: 0, W: width, H: height / 2}
	case RegionBottom:
		return frame.Rect{X: 0, Y: height / 2, W: width, H: height - height/2}
	case RegionCustom:
		return opts.CustomRegion.Clip(width, height)
	default:
		return frame.Rect{X: 0, Y: 0, W: width, H: height}
	}
}

// SetCooldown changes the cooldown window at runtime. Existing entries keep
// their original expiry.
func (d *Detector) SetCooldown(dur time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cooldown = dur
}

// Cooldown returns the current window length.
func (d *Detector) Cooldown() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cooldown
}

// ClearCooldowns drops all active cooldown entries.
func (d *Detector) ClearCooldowns() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cooldowns = make(map[int]time.Time)
}

// Status reports the cooldown state for the control plane. Expired entries
// are dropped as a side effect.
func (d *Detector) Status() CooldownStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	active := make(map[int]int)
	for id, expires := range d.cooldowns {
		remaining := expires.Sub(now)
		if remaining <= 0 {
			delete(d.cooldowns, id)
			continue
		}
		active[id] = int(remaining.Seconds() + 0.5)
	}
	return CooldownStatus{
		CooldownSeconds:   int(d.cooldown.Seconds()),
		ActiveCooldowns:   active,
		TotalDetections:   d.totalDetections,
		BlockedDetections: d.blockedDetections,
	}
}
