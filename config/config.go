// Package config loads the playback tunables from the environment (TORC_*
// variables) with sensible defaults.
package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Tunables are the environment-driven knobs of the playback engine.
type Tunables struct {
	// MaxAudioQueueBytes is the demuxer backpressure threshold on the
	// audio packet queue.
	MaxAudioQueueBytes int64
	// MaxQueueLength is the demuxer backpressure threshold on the audio
	// packet queue's packet count.
	MaxQueueLength int
	// ProbeSize is how many bytes the format probe may peek.
	ProbeSize int
	// Locale biases stream selection towards a language.
	Locale string
	// AVSyncOffsetMs is a manual master-clock adjustment.
	AVSyncOffsetMs int64
	// RefreshIntervalMs paces the supervisor's refresh loop.
	RefreshIntervalMs int
	// Debug lifts the log level.
	Debug bool
}

// Defaults returns the stock tunables.
func Defaults() Tunables {
	return Tunables{
		MaxAudioQueueBytes: 20 * 16 * 1024, // 320 KiB
		MaxQueueLength:     100,
		ProbeSize:          512 * 1024,
		Locale:             localeFromEnv(),
		AVSyncOffsetMs:     0,
		RefreshIntervalMs:  16,
	}
}

// Load reads tunables from TORC_* environment variables over the defaults.
func Load() Tunables {
	v := viper.New()
	v.SetEnvPrefix("torc")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	defs := Defaults()
	v.SetDefault("queue.max-audio-bytes", defs.MaxAudioQueueBytes)
	v.SetDefault("queue.max-length", defs.MaxQueueLength)
	v.SetDefault("probe.size", defs.ProbeSize)
	v.SetDefault("locale", defs.Locale)
	v.SetDefault("avsync.offset-ms", defs.AVSyncOffsetMs)
	v.SetDefault("refresh.interval-ms", defs.RefreshIntervalMs)
	v.SetDefault("debug", false)

	return Tunables{
		MaxAudioQueueBytes: v.GetInt64("queue.max-audio-bytes"),
		MaxQueueLength:     v.GetInt("queue.max-length"),
		ProbeSize:          v.GetInt("probe.size"),
		Locale:             v.GetString("locale"),
		AVSyncOffsetMs:     v.GetInt64("avsync.offset-ms"),
		RefreshIntervalMs:  v.GetInt("refresh.interval-ms"),
		Debug:              v.GetBool("debug"),
	}
}

// localeFromEnv reduces $LANG ("en_US.UTF-8") to a bare language code.
func localeFromEnv() string {
	lang := os.Getenv("LANG")
	if lang == "" {
		return ""
	}
	if idx := strings.IndexAny(lang, "_."); idx > 0 {
		lang = lang[:idx]
	}
	return strings.ToLower(lang)
}
