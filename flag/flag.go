package flag

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseSize parses a size string as number[gGmMkK]. The multiplier is optional,
// and if not set, the unit passed in is used. The number can be any base and
// size.
func ParseSize(s, unit string) (int, error) {
	sz := strings.TrimRight(s, "gGmMkK")
	if len(sz) == 0 {
		return -1, fmt.Errorf("%q:can't parse as num[gGmMkK]:%w", s, strconv.ErrSyntax)
	}

	amt, err := strconv.ParseUint(sz, 0, 0)
	if err != nil {
		return -1, err
	}

	if len(s) > len(sz) {
		unit = s[len(sz):]
	}

	switch unit {
	case "G", "g":
		return int(amt) << 30, nil
	case "M", "m":
		return int(amt) << 20, nil
	case "K", "k":
		return int(amt) << 10, nil
	case "":
		return int(amt), nil
	}

	return -1, fmt.Errorf("can not parse %q as num[gGmMkK]:%w", s, strconv.ErrSyntax)
}

// Board is the YAML board file. Every field is optional, command line
// flags take precedence.
type Board struct {
	RAMBase   uint64 `yaml:"ram_base"`
	RAMSize   string `yaml:"ram_size"`
	Kernel    string `yaml:"kernel"`
	DTB       string `yaml:"dtb"`
	Policy    string `yaml:"policy"`
	CrashDump string `yaml:"crash_dump"`
	LogLevel  string `yaml:"log_level"`
}

func ParseConfig(r io.Reader) (*Board, error) {
	b := &Board{}

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(b); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("board config: %w", err)
	}

	return b, nil
}

// LoadConfig reads the board file at path. An empty path yields the zero
// board.
func LoadConfig(path string) (*Board, error) {
	if path == "" {
		return &Board{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseConfig(f)
}

func pick(flag, file, def string) string {
	switch {
	case flag != "":
		return flag
	case file != "":
		return file
	}

	return def
}
