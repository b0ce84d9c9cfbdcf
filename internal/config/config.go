package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	LogLevel   string        `mapstructure:"log_level"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	Signal    SignalConfig    `mapstructure:"signal"`
	Media     MediaConfig     `mapstructure:"media"`
	MainVideo MainVideoConfig `mapstructure:"main_video"`
	Recording RecordingConfig `mapstructure:"recording"`
}

type SignalConfig struct {
	SendBuffer   int           `mapstructure:"send_buffer"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
	// Backpressure is "kick" or "drop".
	Backpressure string        `mapstructure:"backpressure"`
}

type MediaConfig struct {
	ListenIP       string        `mapstructure:"listen_ip"`
	AnnouncedIP    string        `mapstructure:"announced_ip"`
	UDPPortMin     uint16        `mapstructure:"udp_port_min"`
	UDPPortMax     uint16        `mapstructure:"udp_port_max"`
	STUNServers    []string      `mapstructure:"stun_servers"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type MainVideoConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

type RecordingConfig struct {
	Dir         string        `mapstructure:"dir"`
	FFmpegPath  string        `mapstructure:"ffmpeg_path"`
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
	S3          S3Config      `mapstructure:"s3"`
}

type S3Config struct {
	Bucket string `mapstructure:"bucket"`
	Region string `mapstructure:"region"`
	Prefix string `mapstructure:"prefix"`
}

func (c S3Config) Enabled() bool { return c.Bucket != "" }

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "change-me")

	v.SetDefault("signal.send_buffer", 64)
	v.SetDefault("signal.rate_limit", 50)
	v.SetDefault("signal.rate_interval", "1s")
	v.SetDefault("signal.backpressure", "kick")

	v.SetDefault("media.listen_ip", "0.0.0.0")
	v.SetDefault("media.announced_ip", "127.0.0.1")
	v.SetDefault("media.udp_port_min", 40000)
	v.SetDefault("media.udp_port_max", 40199)
	v.SetDefault("media.stun_servers", []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
		"stun:stun2.l.google.com:19302",
	})
	v.SetDefault("media.connect_timeout", "10s")

	v.SetDefault("main_video.poll_interval", "1s")
	v.SetDefault("main_video.max_attempts", 15)

	v.SetDefault("recording.dir", "./recordings")
	v.SetDefault("recording.ffmpeg_path", "ffmpeg")
	v.SetDefault("recording.stop_timeout", "10s")
	v.SetDefault("recording.s3.region", "us-east-1")
	v.SetDefault("recording.s3.prefix", "recordings/")
}

// Load reads the config file (explicit path, or config/config.<CONFIG_ENV>.yaml),
// then environment overrides. A missing file is not an error.
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if file == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		file = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(file)

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("media.announced_ip", "ANNOUNCED_IP", "MEDIA_ANNOUNCED_IP"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
		log.Warn().Str("module", "config").Str("file", file).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", file).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("announced_ip", cfg.Media.AnnouncedIP).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Media.UDPPortMin > c.Media.UDPPortMax {
		return fmt.Errorf("media.udp_port_min %d greater than media.udp_port_max %d", c.Media.UDPPortMin, c.Media.UDPPortMax)
	}
	if c.Media.ConnectTimeout <= 0 {
		return errors.New("media.connect_timeout must be positive")
	}
	if c.MainVideo.MaxAttempts < 1 {
		return errors.New("main_video.max_attempts must be positive")
	}
	if c.MainVideo.PollInterval <= 0 {
		return errors.New("main_video.poll_interval must be positive")
	}
	if c.Signal.Backpressure != "kick" && c.Signal.Backpressure != "drop" {
		return fmt.Errorf("signal.backpressure %q must be kick or drop", c.Signal.Backpressure)
	}
	if c.Signal.SendBuffer < 1 {
		c.Signal.SendBuffer = 1
	}
	return nil
}
