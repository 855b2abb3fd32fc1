package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"xdao.co/channels/internal/config"
)

// sizeValue is a byte-size flag accepting "256MiB", "16 MB" or plain bytes.
type sizeValue struct {
	n   uint64
	set bool
}

var _ pflag.Value = (*sizeValue)(nil)

func (v *sizeValue) String() string {
	if !v.set {
		return ""
	}
	return humanize.IBytes(v.n)
}

func (v *sizeValue) Set(s string) error {
	n, err := config.ParseSize(s)
	if err != nil {
		return err
	}
	v.n, v.set = n, true
	return nil
}

func (v *sizeValue) Type() string { return "size" }

// or returns the flag value, or def when the flag was not given.
func (v *sizeValue) or(def uint64) uint64 {
	if v.set {
		return v.n
	}
	return def
}

// outputFormat restricts a flag to a fixed set of names.
type outputFormat struct {
	value   string
	allowed []string
}

func (f *outputFormat) String() string { return f.value }

func (f *outputFormat) Set(s string) error {
	for _, a := range f.allowed {
		if s == a {
			f.value = s
			return nil
		}
	}
	return fmt.Errorf("must be one of %s", strings.Join(f.allowed, ", "))
}

func (f *outputFormat) Type() string { return "format" }

var _ pflag.Value = (*outputFormat)(nil)
