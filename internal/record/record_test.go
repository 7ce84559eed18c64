package record

import "testing"

func validRecord() *Record {
	return &Record{
		Host:    "web01",
		Plugin:  "cpu",
		Type:    "cpu",
		DSNames: []string{"value"},
		DSTypes: []DSType{Gauge},
		Values:  []float64{1},
	}
}

func TestValidate(t *testing.T) {
	if err := validRecord().Validate(); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Record)
	}{
		{"no host", func(r *Record) { r.Host = "" }},
		{"no plugin", func(r *Record) { r.Plugin = "" }},
		{"no type", func(r *Record) { r.Type = "" }},
		{"no values", func(r *Record) { r.Values = nil }},
		{"dsnames mismatch", func(r *Record) { r.DSNames = []string{"a", "b"} }},
		{"dstypes mismatch", func(r *Record) { r.DSTypes = nil }},
		{"bad dstype", func(r *Record) { r.DSTypes = []DSType{"rate"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRecord()
			tt.mutate(r)
			if err := r.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestIdentifier(t *testing.T) {
	tests := []struct {
		rec  Record
		want string
	}{
		{Record{Host: "h", Plugin: "cpu", Type: "cpu"}, "h/cpu/cpu"},
		{Record{Host: "h", Plugin: "cpu", PluginInstance: "0", Type: "cpu", TypeInstance: "idle"}, "h/cpu-0/cpu-idle"},
		{Record{Host: "h", Plugin: "disk", PluginInstance: "sda", Type: "disk_octets"}, "h/disk-sda/disk_octets"},
	}
	for _, tt := range tests {
		if got := tt.rec.Identifier(); got != tt.want {
			t.Errorf("Identifier() = %q, want %q", got, tt.want)
		}
	}
}
