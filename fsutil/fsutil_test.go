package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSizeString(t *testing.T) {
	tests := []struct {
		size Size
		want string
	}{
		{512, "512"},
		{2048, "2.0K"},
		{10 * megabyte, "10.0M"},
		{3 * gigabyte / 2, "1.5G"},
	}

	for _, tt := range tests {
		if got := tt.size.String(); got != tt.want {
			t.Errorf("Size(%d).String() = %q, want %q", int64(tt.size), got, tt.want)
		}
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want Size
	}{
		{"512", 512},
		{"64k", 64 * kilobyte},
		{" 10M ", 10 * megabyte},
		{"1.5G", 3 * gigabyte / 2},
		{"0", 0},
	}

	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if err != nil {
			t.Errorf("ParseSize(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "M", "ten", "-1K", "NaN", "Inf", "1e30G"} {
		if _, err := ParseSize(bad); err == nil {
			t.Errorf("ParseSize(%q) should fail", bad)
		}
	}
}

func TestSizeSet(t *testing.T) {
	var size Size
	if err := size.Set("2M"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if size != 2*megabyte {
		t.Errorf("Expected 2M, got %s", size)
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "cert.pem")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	exists, err := Exists(file)
	if err != nil || !exists {
		t.Errorf("Expected %s to exist: %v", file, err)
	}

	exists, err = Exists(filepath.Join(dir, "missing"))
	if err != nil || exists {
		t.Errorf("Expected missing file to not exist: %v", err)
	}

	key := filepath.Join(dir, "key.pem")
	missing, err := Missing(file, key)
	if err != nil || missing != key {
		t.Errorf("Missing should name %s, got %q: %v", key, missing, err)
	}

	missing, err = Missing(file, dir)
	if err != nil || missing != "" {
		t.Errorf("Missing should be empty when all exist, got %q: %v", missing, err)
	}
}

func TestParseSizeLargest(t *testing.T) {
	got, err := ParseSize("1G")
	if err != nil || got != gigabyte {
		t.Fatalf("ParseSize(1G) = %d, %v", got, err)
	}

	// 2^63 bytes does not fit in a Size
	if _, err := ParseSize("8589934592G"); err == nil {
		t.Error("ParseSize should reject sizes past the int64 range")
	}
}
