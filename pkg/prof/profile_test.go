package prof

import (
	"reflect"
	"testing"
)

func TestParseProfiles(t *testing.T) {
	tests := []struct {
		in      string
		want    []Profile
		wantErr bool
	}{
		{"", nil, false},
		{"cpu", []Profile{ProfileCPU}, false},
		{" CPU, mutex ,,cpu", []Profile{ProfileCPU, ProfileMutex}, false},
		{"heap,allocs,goroutine,block", []Profile{ProfileHeap, ProfileAllocs, ProfileGoroutine, ProfileBlock}, false},
		{"cpu,threads", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProfiles(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseProfiles(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseProfiles(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestProfile_File(t *testing.T) {
	if got := ProfileMutex.File(); got != "mutex.prof" {
		t.Errorf("File() = %q, want %q", got, "mutex.prof")
	}
	if got := ProfileCPU.String(); got != "cpu" {
		t.Errorf("String() = %q, want %q", got, "cpu")
	}
}

func TestSession_StartStop(t *testing.T) {
	s, err := Start(t.TempDir(), ProfileCPU)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
