package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/eegkit/muselink/internal/muse"
	"github.com/eegkit/muselink/internal/session"
)

// Output formats for the stream command.
const (
	formatPlain = "plain"
	formatYAML  = "yaml"
	formatJSON  = "json"
)

func validFormat(format string) bool {
	switch format {
	case formatPlain, formatYAML, formatJSON:
		return true
	}
	return false
}

// renderEEG formats one electrode reading. Plain output is one line per
// reading; yaml output is a document per reading separated by "---".
func renderEEG(r session.EEGReading, format string) (string, error) {
	switch format {
	case formatYAML:
		return renderYAMLDoc(r)
	case formatJSON:
		return renderJSONLine(r)
	default:
		samples := make([]string, len(r.Samples))
		for i, s := range r.Samples {
			samples[i] = fmt.Sprintf("%.2f", s)
		}
		return fmt.Sprintf("%-4s %13.3f #%05d  %s", r.Label, r.Timestamp, r.GroupIndex, strings.Join(samples, " ")), nil
	}
}

// renderTelemetry formats one power telemetry snapshot.
func renderTelemetry(t muse.Telemetry, format string) (string, error) {
	switch format {
	case formatYAML:
		return renderYAMLDoc(t)
	case formatJSON:
		return renderJSONLine(t)
	default:
		return fmt.Sprintf("tele #%05d  battery=%.1f%%  fuel=%.0fmV  temp=%.0fC",
			t.Seq, t.BatteryPercent, t.FuelGaugeMV, t.TemperatureC), nil
	}
}

// renderMotion formats one motion snapshot from the named sensor.
func renderMotion(name string, m muse.Motion, format string) (string, error) {
	switch format {
	case formatYAML:
		return renderYAMLDoc(map[string]interface{}{"sensor": name, "seq": m.Seq, "samples": m.Samples})
	case formatJSON:
		return renderJSONLine(map[string]interface{}{"sensor": name, "seq": m.Seq, "samples": m.Samples})
	default:
		v := m.Samples[0]
		return fmt.Sprintf("%-4s #%05d  x=%+.4f y=%+.4f z=%+.4f", name, m.Seq, v.X, v.Y, v.Z), nil
	}
}

func renderYAMLDoc(v interface{}) (string, error) {
	out, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return "---\n" + string(out), nil
}

func renderJSONLine(v interface{}) (string, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
