package mqttclient

import (
	"reflect"
	"testing"
)

func TestSplitFilters(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"empty_uses_default", "", []string{"breath/ingest/#"}},
		{"whitespace_only_uses_default", " , ,", []string{"breath/ingest/#"}},
		{"single_filter", "breath/ingest/dev-1", []string{"breath/ingest/dev-1"}},
		{"trims_and_splits", " breath/ingest/#, telemetry/# ", []string{"breath/ingest/#", "telemetry/#"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitFilters(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitFilters(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}
