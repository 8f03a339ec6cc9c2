package export

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jaralab/timestamper/internal/debug"
	"github.com/jaralab/timestamper/internal/timing"
)

// Bundle is the export artifact: a flat set of named elapsed-seconds
// sequences plus the session start epoch as an ISO-8601 string. Keys
// follow the ts_<name>_rising / ts_<name>_falling scheme, with the
// trigger logs under ts_trigger_rising / ts_trigger_falling.
type Bundle struct {
	StartTime string
	Series    map[string][]float64
}

const startTimeKey = "start_time"

// FromSnapshot builds a bundle from a recorder snapshot. Sequences are
// always non-nil so an empty log exports as [] and survives a
// round-trip unchanged.
func FromSnapshot(s timing.Snapshot) Bundle {
	series := make(map[string][]float64, 2*len(s.InputNames)+2)
	for i, name := range s.InputNames {
		series["ts_"+name+"_rising"] = copySeq(s.Rising[i])
		series["ts_"+name+"_falling"] = copySeq(s.Falling[i])
	}
	series["ts_trigger_rising"] = copySeq(s.TriggerRising)
	series["ts_trigger_falling"] = copySeq(s.TriggerFalling)

	return Bundle{
		StartTime: s.StartTime.Format(time.RFC3339Nano),
		Series:    series,
	}
}

func copySeq(src []float64) []float64 {
	dst := make([]float64, len(src))
	copy(dst, src)
	return dst
}

// Keys returns the series names in sorted order.
func (b Bundle) Keys() []string {
	keys := make([]string, 0, len(b.Series))
	for k := range b.Series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON emits a single flat object: start_time first, then the
// series in sorted key order.
func (b Bundle) MarshalJSON() ([]byte, error) {
	var buf strings.Builder
	buf.WriteByte('{')

	st, err := json.Marshal(b.StartTime)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(&buf, "%q:%s", startTimeKey, st)

	for _, k := range b.Keys() {
		v, err := json.Marshal(b.Series[k])
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&buf, ",%q:%s", k, v)
	}

	buf.WriteByte('}')
	return []byte(buf.String()), nil
}

// UnmarshalJSON parses the flat object back into a bundle.
func (b *Bundle) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	b.Series = make(map[string][]float64, len(raw))
	for k, v := range raw {
		if k == startTimeKey {
			if err := json.Unmarshal(v, &b.StartTime); err != nil {
				return fmt.Errorf("parse %s: %w", startTimeKey, err)
			}
			continue
		}
		var seq []float64
		if err := json.Unmarshal(v, &seq); err != nil {
			return fmt.Errorf("parse series %q: %w", k, err)
		}
		if seq == nil {
			seq = []float64{}
		}
		b.Series[k] = seq
	}
	return nil
}

// Save writes the bundle as JSON to path.
func Save(path string, b Bundle) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write bundle: %w", err)
	}
	debug.Info("Saved %d series to %s", len(b.Series), path)
	return nil
}

// Load reads a bundle back from path.
func Load(path string) (Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Bundle{}, fmt.Errorf("read bundle: %w", err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return Bundle{}, fmt.Errorf("unmarshal bundle: %w", err)
	}
	return b, nil
}

// FileName builds the output name from the session label, start time
// and short session ID, e.g. "mouse042_20260831_153000_1a2b3c4d.json".
func FileName(label string, start time.Time, shortID string) string {
	return fmt.Sprintf("%s_%s_%s.json",
		sanitizeLabel(label), start.Format("20060102_150405"), shortID)
}

// sanitizeLabel keeps letters, digits, '-' and '_'; everything else
// becomes '_' so the label is safe in a file name.
func sanitizeLabel(label string) string {
	if label == "" {
		return "session"
	}
	var sb strings.Builder
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}
