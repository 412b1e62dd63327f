//go:build rp2040

package main

// ModeConfig determines which mode the firmware runs in
type ModeConfig struct {
	// Standalone runs G-code on the board instead of serving a host
	Standalone bool
}

// standaloneMode is set at link time:
//
//	tinygo build -target=pico -ldflags="-X main.standaloneMode=true" ./targets/rp2040
var standaloneMode = "false"

// GetMode returns the mode selected at build time
func GetMode() ModeConfig {
	return ModeConfig{Standalone: standaloneMode == "true"}
}
