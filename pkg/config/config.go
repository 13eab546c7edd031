// Package config provides configuration management for coldfiredbg.
// It reads settings from coldfiredbg.ini using multiple search paths, the
// same layered lookup the original Foenix tooling used for its own ini file.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/ini.v1"
)

// Config holds all configuration settings for coldfiredbg. Unlike a
// hardware target's own configuration, none of this is persisted back to
// the probe or the microcontroller -- it only tunes how this process talks
// to them.
type Config struct {
	// USB probe identification (§6). Overridable for testing against a
	// probe emulator with a different VID/PID.
	USBVendorID  uint16
	USBProductID uint16

	// Timeouts
	USBTimeout      time.Duration
	FreezeTimeout   time.Duration
	ContinueTimeout time.Duration
	StepTimeout     time.Duration

	// GDB RSP server
	RSPPort int

	// Flash agent
	AgentPath string

	// Bulk upload chunking (§4.2 "single-chunk BB uploads ... use 1192-byte
	// chunks with a 5ms inter-chunk gap")
	BulkChunkSize int
	BulkChunkGap  time.Duration

	Quiet bool
}

// Load reads configuration from coldfiredbg.ini in the following search
// order, returning defaults silently if no file is found in any of them:
//  1. Current directory (./coldfiredbg.ini)
//  2. $COLDFIREDBG_HOME directory
//  3. Home directory (~/coldfiredbg.ini)
func Load() (*Config, error) {
	cfg := defaults()

	var searchPaths []string
	searchPaths = append(searchPaths, filepath.Join(".", "coldfiredbg.ini"))
	if dir := os.Getenv("COLDFIREDBG_HOME"); dir != "" {
		searchPaths = append(searchPaths, filepath.Join(dir, "coldfiredbg.ini"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, "coldfiredbg.ini"))
	}

	var iniFile *ini.File
	for _, path := range searchPaths {
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		f, err := ini.Load(path)
		if err != nil {
			return nil, err
		}
		iniFile = f
		break
	}

	if iniFile == nil {
		// No config file anywhere: the defaults are a complete, working
		// configuration, so this is not an error.
		return cfg, nil
	}

	section := iniFile.Section("DEFAULT")
	cfg.USBVendorID = uint16(section.Key("usb_vendor_id").MustInt(int(cfg.USBVendorID)))
	cfg.USBProductID = uint16(section.Key("usb_product_id").MustInt(int(cfg.USBProductID)))
	cfg.USBTimeout = time.Duration(section.Key("usb_timeout_ms").MustInt(int(cfg.USBTimeout/time.Millisecond))) * time.Millisecond
	cfg.FreezeTimeout = time.Duration(section.Key("freeze_timeout_ms").MustInt(int(cfg.FreezeTimeout/time.Millisecond))) * time.Millisecond
	cfg.RSPPort = section.Key("rsp_port").MustInt(cfg.RSPPort)
	cfg.AgentPath = section.Key("agent_path").MustString(cfg.AgentPath)
	cfg.BulkChunkSize = section.Key("bulk_chunk_size").MustInt(cfg.BulkChunkSize)

	return cfg, nil
}

// defaults returns the configuration baked into this binary, matching the
// values in spec §5/§6.
func defaults() *Config {
	return &Config{
		USBVendorID:     0x1357,
		USBProductID:    0x0503,
		USBTimeout:      5 * time.Second,
		FreezeTimeout:   500 * time.Millisecond,
		ContinueTimeout: 5 * time.Second,
		StepTimeout:     100 * time.Millisecond,
		RSPPort:         3333,
		AgentPath:       "",
		BulkChunkSize:   1192,
		BulkChunkGap:    5 * time.Millisecond,
	}
}
