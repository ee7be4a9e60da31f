// Package hostenv reads host process settings and the device configuration
// defaults from the environment.
package hostenv

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"smartbox/internal/config"
)

// Config is everything the host needs before the device configuration is
// loaded.
type Config struct {
	ListenAddr        string        `env:"SMARTBOX_LISTEN_ADDR"        envDefault:"127.0.0.1:5174"`
	BaseURL           string        `env:"SMARTBOX_BASE_URL"`
	ConfigPath        string        `env:"SMARTBOX_CONFIG_PATH"`
	DataDir           string        `env:"SMARTBOX_DATA_DIR"`
	Environment       string        `env:"SMARTBOX_ENV"                envDefault:"production"`
	Version           string        `env:"SMARTBOX_VERSION"            envDefault:"0.1.0"`
	Dev               bool          `env:"SMARTBOX_DEV"`
	ProbeTimeout      time.Duration `env:"SMARTBOX_PROBE_TIMEOUT"      envDefault:"15s"`
	ProbeConcurrency  int64         `env:"SMARTBOX_PROBE_CONCURRENCY"  envDefault:"2"`
	RetentionSchedule string        `env:"SMARTBOX_RETENTION_SCHEDULE" envDefault:"0 0 2 * * *"`
	SchemaCacheSize   int           `env:"SMARTBOX_SCHEMA_CACHE_SIZE"  envDefault:"64"`
	MaxCaptureMB      float64       `env:"SMARTBOX_MAX_CAPTURE_MB"     envDefault:"25"`

	Defaults Defaults `envPrefix:"SMARTBOX_DEFAULT_"`
}

// Defaults are the device configuration values used when the document is
// missing or a field in it is invalid.
type Defaults struct {
	Language string `env:"LANGUAGE"  envDefault:"de"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	AETitle         string `env:"AE_TITLE"         envDefault:"SMARTBOX"`
	StationName     string `env:"STATION_NAME"     envDefault:"SMARTBOX-1"`
	Modality        string `env:"MODALITY"         envDefault:"XC"`
	InstitutionName string `env:"INSTITUTION_NAME"`
	LocalPort       int    `env:"LOCAL_PORT"       envDefault:"11112"`

	PhotosPath    string `env:"PHOTOS_PATH"`
	VideosPath    string `env:"VIDEOS_PATH"`
	DicomPath     string `env:"DICOM_PATH"`
	RetentionDays int    `env:"RETENTION_DAYS" envDefault:"30"`
	AutoCleanup   bool   `env:"AUTO_CLEANUP"`

	PacsHost           string `env:"PACS_HOST"            envDefault:"localhost"`
	PacsPort           int    `env:"PACS_PORT"            envDefault:"104"`
	PacsCalledAETitle  string `env:"PACS_CALLED_AE_TITLE" envDefault:"ORTHANC"`
	PacsTimeout        int    `env:"PACS_TIMEOUT"         envDefault:"30"`
	PacsMaxRetries     int    `env:"PACS_MAX_RETRIES"     envDefault:"3"`
	PacsRetryDelay     int    `env:"PACS_RETRY_DELAY"     envDefault:"5"`
	MwlHost            string `env:"MWL_HOST"             envDefault:"localhost"`
	MwlPort            int    `env:"MWL_PORT"             envDefault:"105"`
	MwlCalledAETitle   string `env:"MWL_CALLED_AE_TITLE"  envDefault:"ORTHANC"`
	MwlTimeout         int    `env:"MWL_TIMEOUT"          envDefault:"10"`
	MwlQueryPeriod     string `env:"MWL_QUERY_PERIOD"     envDefault:"today"`
	MwlQueryDaysBefore int    `env:"MWL_QUERY_DAYS_BEFORE"`
	MwlQueryDaysAfter  int    `env:"MWL_QUERY_DAYS_AFTER"`

	VideoDeviceID    string `env:"VIDEO_DEVICE_ID"    envDefault:"mock"`
	VideoResolution  string `env:"VIDEO_RESOLUTION"   envDefault:"1920x1080"`
	VideoFrameRate   int    `env:"VIDEO_FRAME_RATE"   envDefault:"30"`
	VideoCodec       string `env:"VIDEO_CODEC"        envDefault:"h264"`
	VideoJpegQuality int    `env:"VIDEO_JPEG_QUALITY" envDefault:"90"`
}

// Load parses the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg.withDerived()
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg.withDerived()
}

// withDerived fills the values that depend on the platform or on other
// values.
func (c Config) withDerived() (Config, error) {
	if c.ConfigPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return Config{}, fmt.Errorf("locate config dir: %w", err)
		}
		c.ConfigPath = filepath.Join(dir, "smartbox", "config.json")
	}
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("locate home dir: %w", err)
		}
		c.DataDir = filepath.Join(home, "SmartBox")
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://" + c.ListenAddr
	}
	if c.ProbeConcurrency < 1 {
		c.ProbeConcurrency = 1
	}

	d := &c.Defaults
	if d.PhotosPath == "" {
		d.PhotosPath = filepath.Join(c.DataDir, "photos")
	}
	if d.VideosPath == "" {
		d.VideosPath = filepath.Join(c.DataDir, "videos")
	}
	if d.DicomPath == "" {
		d.DicomPath = filepath.Join(c.DataDir, "dicom")
	}
	return c, nil
}

// Document converts the defaults into the shape the configuration store
// takes. The calling AE title of both services is the local AE title.
func (d Defaults) Document() config.Document {
	return config.Document{
		Application: config.ApplicationDoc{Language: d.Language, LogLevel: d.LogLevel},
		Dicom: config.DicomDoc{
			AETitle:         d.AETitle,
			StationName:     d.StationName,
			Modality:        d.Modality,
			InstitutionName: d.InstitutionName,
			LocalPort:       d.LocalPort,
		},
		Storage: config.StorageDoc{
			PhotosPath:        d.PhotosPath,
			VideosPath:        d.VideosPath,
			DicomPath:         d.DicomPath,
			RetentionDays:     d.RetentionDays,
			EnableAutoCleanup: d.AutoCleanup,
		},
		Pacs: config.PacsDoc{
			Host:           d.PacsHost,
			Port:           d.PacsPort,
			CalledAETitle:  d.PacsCalledAETitle,
			CallingAETitle: d.AETitle,
			Timeout:        d.PacsTimeout,
			MaxRetries:     d.PacsMaxRetries,
			RetryDelay:     d.PacsRetryDelay,
		},
		MwlSettings: config.MwlDoc{
			Host:            d.MwlHost,
			Port:            d.MwlPort,
			CalledAETitle:   d.MwlCalledAETitle,
			CallingAETitle:  d.AETitle,
			Timeout:         d.MwlTimeout,
			QueryPeriod:     d.MwlQueryPeriod,
			QueryDaysBefore: d.MwlQueryDaysBefore,
			QueryDaysAfter:  d.MwlQueryDaysAfter,
		},
		Video: config.VideoDoc{
			DeviceID:    d.VideoDeviceID,
			Resolution:  d.VideoResolution,
			FrameRate:   d.VideoFrameRate,
			Codec:       d.VideoCodec,
			JpegQuality: d.VideoJpegQuality,
		},
	}
}
