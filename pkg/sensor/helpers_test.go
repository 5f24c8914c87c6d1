package sensor

import "testing"

func TestToMillivolts(t *testing.T) {
	tests := []struct {
		raw, ref int32
		bits     uint
		want     int32
	}{
		{0, 3300, 12, 0},
		{4095, 3300, 12, 3300},
		{2048, 3300, 12, 1650},
		{1241, 3300, 12, 1000},
		{32767, 4096, 15, 4096},
		{16384, 4096, 15, 2048},
	}
	for _, tt := range tests {
		if got := ToMillivolts(tt.raw, tt.ref, tt.bits); got != tt.want {
			t.Fatalf("ToMillivolts(%d, %d, %d) = %d; want %d", tt.raw, tt.ref, tt.bits, got, tt.want)
		}
	}
}

func TestClampMV(t *testing.T) {
	tests := []struct {
		in, want int32
		clamped  bool
	}{
		{-1, 0, true},
		{0, 0, false},
		{3300, 3300, false},
		{3301, 3300, true},
	}
	for _, tt := range tests {
		got, c := clampMV(tt.in, 3300)
		if got != tt.want || c != tt.clamped {
			t.Fatalf("clampMV(%d) = %d,%v; want %d,%v", tt.in, got, c, tt.want, tt.clamped)
		}
	}
}
