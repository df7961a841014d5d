package fsutil

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

func Exists(path string) (bool, error) {
	_, err := os.Stat(path)

	if err == nil {
		return true, nil
	} else if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else {
		return false, fmt.Errorf("stat path %v: %w", path, err)
	}
}

// Missing returns the first of paths that does not exist, or "" when all do.
func Missing(paths ...string) (string, error) {
	for _, path := range paths {
		exists, err := Exists(path)
		if err != nil {
			return "", err
		}
		if !exists {
			return path, nil
		}
	}

	return "", nil
}

type Size int64

const (
	kilobyte Size = 1024
	megabyte      = kilobyte * 1024
	gigabyte      = megabyte * 1024
)

func (size Size) String() string {
	if size < kilobyte {
		return fmt.Sprintf("%d", int64(size))
	} else if size < megabyte {
		return fmt.Sprintf("%.1fK", float64(size)/float64(kilobyte))
	} else if size < gigabyte {
		return fmt.Sprintf("%.1fM", float64(size)/float64(megabyte))
	} else {
		return fmt.Sprintf("%.1fG", float64(size)/float64(gigabyte))
	}
}

// ParseSize reads sizes written the way String prints them, e.g. "512",
// "64K", "10M" or "1.5G".
func ParseSize(s string) (Size, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("parse size: empty string")
	}

	unit := Size(1)
	switch s[len(s)-1] {
	case 'K':
		unit = kilobyte
	case 'M':
		unit = megabyte
	case 'G':
		unit = gigabyte
	}
	if unit != 1 {
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil || !(n >= 0) {
		return 0, fmt.Errorf("parse size %q: not a non-negative number", s)
	}

	total := n * float64(unit)
	if total >= math.MaxInt64 {
		return 0, fmt.Errorf("parse size %q: too large", s)
	}

	return Size(total), nil
}

// Set and the String method above let a Size be used as a flag.Value.
func (size *Size) Set(s string) error {
	parsed, err := ParseSize(s)
	if err != nil {
		return err
	}
	*size = parsed
	return nil
}

func (size Size) MarshalYAML() (interface{}, error) {
	return size.String(), nil
}

func (size *Size) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return size.Set(s)
}
