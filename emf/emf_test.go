package emf

import "testing"

func TestFrequencyTable(t *testing.T) {
	freqs := Frequencies()
	if len(freqs) != NumFrequencies {
		t.Fatalf("%d frequencies, want %d", len(freqs), NumFrequencies)
	}
	want := []float64{19000, 23400, 70000, 77500, 124000, 129100, 135600}
	for i, f := range want {
		if freqs[i] != f {
			t.Errorf("frequency %d = %v, want %v", i, freqs[i], f)
		}
	}

	// The returned slice is a copy; mutating it must not leak back.
	freqs[0] = 0
	if Frequencies()[0] != 19000 {
		t.Error("Frequencies() exposes internal state")
	}
}

func TestNewFrequencyConfig(t *testing.T) {
	tests := []struct {
		name     string
		active   []int
		selected int
		wantErr  bool
	}{
		{"all active, first selected", []int{0, 1, 2, 3, 4, 5, 6}, 0, false},
		{"subset, selected active", []int{1, 3}, 3, false},
		{"selected not active", []int{1, 3}, 2, true},
		{"no active", nil, 0, true},
		{"active index out of range", []int{7}, 0, true},
		{"selected out of range", []int{0}, -1, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := NewFrequencyConfig(tc.active, tc.selected)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.SelectedIndex() != tc.selected {
				t.Errorf("selected index %d, want %d", cfg.SelectedIndex(), tc.selected)
			}
		})
	}
}

func TestWithSelected(t *testing.T) {
	cfg, err := NewFrequencyConfig([]int{0, 2}, 0)
	if err != nil {
		t.Fatal(err)
	}

	cfg2, err := cfg.WithSelected(2)
	if err != nil {
		t.Fatalf("WithSelected(2): %v", err)
	}
	if cfg2.Selected() != 70000 {
		t.Errorf("selected frequency %v, want 70000", cfg2.Selected())
	}
	// The original is unchanged.
	if cfg.SelectedIndex() != 0 {
		t.Error("WithSelected mutated the receiver")
	}

	if _, err := cfg.WithSelected(1); err == nil {
		t.Error("expected an error selecting an inactive frequency")
	}
}

func TestDefaultFrequencyConfig(t *testing.T) {
	cfg := DefaultFrequencyConfig()
	for i := 0; i < NumFrequencies; i++ {
		if !cfg.IsActive(i) {
			t.Errorf("frequency %d inactive in default config", i)
		}
	}
	if cfg.Selected() != 19000 {
		t.Errorf("default selected %v, want 19000", cfg.Selected())
	}
}
