package env

import (
	"time"

	"github.com/spf13/viper"
)

// GetString returns the value of the key as a string. Defaults are registered by
// the binary's SetDefaults before the first lookup.
func GetString(key string) string {
	return viper.GetString(key)
}

func GetInt(key string) int {
	return viper.GetInt(key)
}

func GetBool(key string) bool {
	return viper.GetBool(key)
}

func GetFloat64(key string) float64 {
	return viper.GetFloat64(key)
}

func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}
