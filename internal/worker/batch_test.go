package worker

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBatches(t *testing.T) {
	tests := []struct {
		name  string
		items []int
		size  int
		want  []int
	}{
		{"exact", []int{1, 2, 3, 4}, 2, []int{2, 2}},
		{"remainder", []int{1, 2, 3, 4, 5}, 2, []int{2, 2, 1}},
		{"larger than input", []int{1, 2}, 10, []int{2}},
		{"zero size is one batch", []int{1, 2, 3}, 0, []int{3}},
		{"empty", nil, 3, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Batches(tt.items, tt.size)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d batches, got %d", len(tt.want), len(got))
			}
			for i, b := range got {
				if len(b) != tt.want[i] {
					t.Errorf("batch %d: expected %d items, got %d", i, tt.want[i], len(b))
				}
			}
		})
	}
}

func TestBatches_KeepsOrder(t *testing.T) {
	got := Batches([]string{"a", "b", "c"}, 2)
	if got[0][0] != "a" || got[0][1] != "b" || got[1][0] != "c" {
		t.Errorf("unexpected batches: %v", got)
	}
}

func TestReadIDsFromFile(t *testing.T) {
	content := `# evidence to reset
ev-1

ev-2
ev-1
  ev-3  
`
	tmpFile := filepath.Join(t.TempDir(), "ids.txt")
	if err := os.WriteFile(tmpFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	ids, err := ReadIDsFromFile(tmpFile)
	if err != nil {
		t.Fatalf("ReadIDsFromFile failed: %v", err)
	}

	want := []string{"ev-1", "ev-2", "ev-3"}
	if len(ids) != len(want) {
		t.Fatalf("expected %d ids, got %d: %v", len(want), len(ids), ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("id %d: expected %q, got %q", i, want[i], ids[i])
		}
	}
}

func TestReadIDsFromFile_Missing(t *testing.T) {
	if _, err := ReadIDsFromFile(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}
