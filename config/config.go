// Package config collects the settings of a vmsim run from a .env file and
// from VMSIM_* environment variables.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Prefix is the prefix of every environment variable read by Load.
const Prefix = "VMSIM_"

// Config holds the settings of the virtual memory system.
type Config struct {
	// RAMPages is the size of physical memory in pages.
	RAMPages int
	// KernelPages is the number of pages the kernel takes before the frame
	// allocator starts.
	KernelPages int
	// SwapSlots is the number of page-sized slots in the swap store.
	SwapSlots int
	// SwapFile, if set, backs the swap store with a file instead of memory.
	SwapFile string
	// VictimPolicy is "clock" or "fifo".
	VictimPolicy string
	TLBSets      int
	TLBWays      int
	// MaxProcesses bounds the number of live address spaces.
	MaxProcesses int
	LogLevel     string
	// Record, if set, is the path of the SQLite database events go to.
	Record      string
	MonitorPort int
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		RAMPages:     256,
		KernelPages:  16,
		SwapSlots:    1024,
		VictimPolicy: "clock",
		TLBSets:      1,
		TLBWays:      64,
		MaxProcesses: 64,
		LogLevel:     "info",
	}
}

// Load reads the given .env files, then the environment. Missing .env
// files are skipped. Variables already set in the environment win over the
// files.
func Load(files ...string) (Config, error) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}

		if err := godotenv.Load(f); err != nil {
			return Config{}, errors.Wrapf(err, "load %s", f)
		}
	}

	return FromEnv(os.Getenv)
}

// FromEnv builds the configuration from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	c := Default()
	p := parser{getenv: getenv}

	p.int("RAM_PAGES", &c.RAMPages)
	p.int("KERNEL_PAGES", &c.KernelPages)
	p.int("SWAP_SLOTS", &c.SwapSlots)
	p.str("SWAP_FILE", &c.SwapFile)
	p.str("VICTIM_POLICY", &c.VictimPolicy)
	p.int("TLB_SETS", &c.TLBSets)
	p.int("TLB_WAYS", &c.TLBWays)
	p.int("MAX_PROCESSES", &c.MaxProcesses)
	p.str("LOG_LEVEL", &c.LogLevel)
	p.str("RECORD", &c.Record)
	p.int("MONITOR_PORT", &c.MonitorPort)

	if p.err != nil {
		return Config{}, p.err
	}

	return c, c.Validate()
}

// Validate checks that the settings can build a working system.
func (c Config) Validate() error {
	switch {
	case c.RAMPages <= 0:
		return errors.Errorf("RAM_PAGES must be positive, got %d", c.RAMPages)
	case c.KernelPages < 0 || c.KernelPages > c.RAMPages:
		return errors.Errorf("KERNEL_PAGES must be within [0, %d], got %d",
			c.RAMPages, c.KernelPages)
	case c.SwapSlots < 0:
		return errors.Errorf("SWAP_SLOTS must not be negative, got %d",
			c.SwapSlots)
	case c.VictimPolicy != "clock" && c.VictimPolicy != "fifo":
		return errors.Errorf("unknown VICTIM_POLICY %q", c.VictimPolicy)
	case c.TLBSets <= 0 || c.TLBWays <= 0:
		return errors.New("TLB_SETS and TLB_WAYS must be positive")
	case c.MaxProcesses <= 0:
		return errors.Errorf("MAX_PROCESSES must be positive, got %d",
			c.MaxProcesses)
	}

	_, err := logrus.ParseLevel(c.LogLevel)

	return errors.Wrap(err, "LOG_LEVEL")
}

// Level returns the parsed log level.
func (c Config) Level() logrus.Level {
	l, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}

	return l
}

type parser struct {
	getenv func(string) string
	err    error
}

func (p *parser) str(name string, dst *string) {
	if v := strings.TrimSpace(p.getenv(Prefix + name)); v != "" {
		*dst = v
	}
}

func (p *parser) int(name string, dst *int) {
	v := strings.TrimSpace(p.getenv(Prefix + name))
	if v == "" || p.err != nil {
		return
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		p.err = errors.Wrapf(err, "%s%s", Prefix, name)
		return
	}

	*dst = n
}
