package authkit

import (
	"os"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/joho/godotenv"
)

// Config carries the knobs a consumer wires the core with.
type Config struct {
	BaseURL     string
	PhoneRegion string
	StoragePath string
	TokenKey    string

	// ResendCooldownSeconds gates OTP re-issues; 0 keeps the default.
	ResendCooldownSeconds int
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.PhoneRegion, validation.Length(2, 2)),
		validation.Field(&c.ResendCooldownSeconds, validation.Min(0)),
	)
}

// LoadConfig reads configuration from the environment, honoring a local
// .env file when present.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		BaseURL:     os.Getenv("AUTHKIT_BASE_URL"),
		PhoneRegion: getEnv("AUTHKIT_PHONE_REGION", DefaultPhoneRegion),
		StoragePath: getEnv("AUTHKIT_STORAGE_PATH", defaultStoragePath()),
		TokenKey:    getEnv("AUTHKIT_TOKEN_KEY", DefaultTokenKey),
	}

	if raw := os.Getenv("AUTHKIT_RESEND_COOLDOWN"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil {
			cfg.ResendCooldownSeconds = secs
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".authkit/state.json"
	}
	return home + "/.authkit/state.json"
}
