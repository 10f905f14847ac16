// videdit/config/config.go
package config

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config is built once at startup and passed explicitly to every component.
// Nothing mutates it after Load returns.
type Config struct {
	FFBin              string        `mapstructure:"FF_BIN"`
	FFProbeBin         string        `mapstructure:"FFPROBE_BIN"`
	EngineArgs         string        `mapstructure:"ENGINE_ARGS"`
	TaskTimeout        time.Duration `mapstructure:"TASK_TIMEOUT"`
	DataDir            string        `mapstructure:"DATA_DIR"`
	OutputLifetime     time.Duration `mapstructure:"OUTPUT_LOCAL_LIFETIME"`
	MaxInputSize       int64         `mapstructure:"MAX_INPUT_SIZE"`
	MaxConcurrency     int           `mapstructure:"MAX_CONCURRENCY"`
	QueueSize          int           `mapstructure:"QUEUE_SIZE"`
	SplitParallelism   int           `mapstructure:"SPLIT_PARALLELISM"`
	ThrottleCPU        float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem    int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk   int64         `mapstructure:"THROTTLE_FREEDISK"`
	AuthEnable         bool          `mapstructure:"AUTH_ENABLE"`
	AuthKey            string        `mapstructure:"AUTH_KEY"`
	SubmitRate         float64       `mapstructure:"SUBMIT_RATE"`
	SubmitBurst        int           `mapstructure:"SUBMIT_BURST"`
	Port               string        `mapstructure:"PORT"`
	BaseURL            string        `mapstructure:"BASE"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	StoreDriver        string        `mapstructure:"STORE_DRIVER"`
	StorePath          string        `mapstructure:"STORE_PATH"`
	DefaultProcessor   string        `mapstructure:"DEFAULT_PROCESSOR"`
	DefaultOperation   string        `mapstructure:"DEFAULT_OPERATION"`
	ClipOperations     []string      `mapstructure:"CLIP_OPERATIONS"`
	FilterOperations   []string      `mapstructure:"FILTER_OPERATIONS"`
	TransitionOps      []string      `mapstructure:"TRANSITION_OPERATIONS"`
	AutoOperations     []string      `mapstructure:"AUTO_OPERATIONS"`
	AnalysisSampleRate int           `mapstructure:"ANALYSIS_SAMPLE_RATE"`
	PlanRedistribution string        `mapstructure:"PLAN_REDISTRIBUTION"`
}

// OperationsFor returns the operations enabled for a processor. A nil result
// means the processor keeps its full built-in list.
func (c *Config) OperationsFor(processor string) []string {
	var ops []string
	switch processor {
	case "clip":
		ops = c.ClipOperations
	case "filter":
		ops = c.FilterOperations
	case "transition":
		ops = c.TransitionOps
	case "auto":
		ops = c.AutoOperations
	}
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		if op = strings.TrimSpace(op); op != "" {
			out = append(out, op)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// VideosDir is where final artifacts are written.
func (c *Config) VideosDir() string {
	return filepath.Join(c.DataDir, "videos")
}

// StagingDir holds in-flight engine output until it is complete.
func (c *Config) StagingDir() string {
	return filepath.Join(c.DataDir, "staging")
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	vp := viper.New()

	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FFPROBE_BIN", "ffprobe")
	vp.SetDefault("ENGINE_ARGS", "-preset veryfast")
	vp.SetDefault("TASK_TIMEOUT", "1h")
	vp.SetDefault("DATA_DIR", "./data")
	vp.SetDefault("OUTPUT_LOCAL_LIFETIME", "24h")
	vp.SetDefault("MAX_INPUT_SIZE", "2GB")
	vp.SetDefault("MAX_CONCURRENCY", 2)
	vp.SetDefault("QUEUE_SIZE", 100)
	vp.SetDefault("SPLIT_PARALLELISM", 2)
	vp.SetDefault("THROTTLE_CPU", 0.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "123456")
	vp.SetDefault("SUBMIT_RATE", 5.0)
	vp.SetDefault("SUBMIT_BURST", 10)
	vp.SetDefault("PORT", "8080")
	vp.SetDefault("BASE", "")
	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("STORE_DRIVER", "memory")
	vp.SetDefault("STORE_PATH", "./data/tasks.db")
	vp.SetDefault("DEFAULT_PROCESSOR", "clip")
	vp.SetDefault("DEFAULT_OPERATION", "trim")
	vp.SetDefault("CLIP_OPERATIONS", "trim,split,merge,speed,reverse")
	vp.SetDefault("FILTER_OPERATIONS", "brightness,contrast,saturation,blur,sharpen,grayscale,sepia,vignette")
	vp.SetDefault("TRANSITION_OPERATIONS", "fade,dissolve,wipe,slide,zoom,rotate,flash,crossfade")
	vp.SetDefault("AUTO_OPERATIONS", "music_edit,smart_edit,highlight_edit")
	vp.SetDefault("ANALYSIS_SAMPLE_RATE", 16000)
	vp.SetDefault("PLAN_REDISTRIBUTION", "proportional")

	vp.SetConfigName("videdit_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/videdit/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("VIDEDIT")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The order matters: the first hook that succeeds is used.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// NewLogger creates a leveled logger with timestamps. The writer defaults to os.Stderr
// and unknown levels fall back to info.
func NewLogger(w io.Writer, level string) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	logger := log.NewWithOptions(w, log.Options{ReportTimestamp: true})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}
