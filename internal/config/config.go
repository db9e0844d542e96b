package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/streamup/internal/upload"
	"github.com/tanq16/streamup/internal/utils"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Line      string              `yaml:"line,omitempty"`
	Limit     int                 `yaml:"limit,omitempty"`
	OutputDir string              `yaml:"output_dir,omitempty"`
	Archive   string              `yaml:"archive,omitempty"`
	Streamers map[string]Streamer `yaml:"streamers"`
}

type Streamer struct {
	URLs        []string `yaml:"urls"`
	Template    string   `yaml:"template,omitempty"`
	SegmentTime string   `yaml:"segment_time,omitempty"`
	SegmentSize int64    `yaml:"segment_size,omitempty"`
	Archive     string   `yaml:"archive,omitempty"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}
	if cfg.Limit <= 0 {
		cfg.Limit = upload.DefaultLimit
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	for name, streamer := range cfg.Streamers {
		if len(streamer.URLs) == 0 {
			return nil, fmt.Errorf("streamer %q has no urls", name)
		}
		if streamer.SegmentTime != "" {
			if _, err := time.ParseDuration(streamer.SegmentTime); err != nil {
				return nil, fmt.Errorf("streamer %q: invalid segment_time %q: %v", name, streamer.SegmentTime, err)
			}
		}
	}
	return &cfg, nil
}

// Jobs builds one job per streamer URL, ordered by streamer name. base
// carries the HTTP settings from the command line.
func (c *Config) Jobs(base utils.HTTPClientConfig) []utils.StreamJob {
	names := make([]string, 0, len(c.Streamers))
	for name := range c.Streamers {
		names = append(names, name)
	}
	slices.Sort(names)

	var jobs []utils.StreamJob
	for _, name := range names {
		streamer := c.Streamers[name]
		segmentTime, _ := time.ParseDuration(streamer.SegmentTime)
		archive := streamer.Archive
		if archive == "" {
			archive = c.Archive
		}
		for _, rawURL := range streamer.URLs {
			if rawURL == "" {
				log.Warn().Str("op", "config/jobs").Msgf("Empty url for %s, skipping", name)
				continue
			}
			jobs = append(jobs, utils.StreamJob{
				ID:               uuid.New().String(),
				Name:             name,
				URL:              rawURL,
				Template:         streamer.Template,
				OutputDir:        c.OutputDir,
				SegmentTime:      segmentTime,
				SegmentSize:      streamer.SegmentSize,
				Archive:          archive,
				HTTPClientConfig: base,
			})
		}
	}
	return jobs
}
