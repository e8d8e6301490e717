package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"fraud-detector/internal/common"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	DataPath             string
	ModelsDir            string
	DatasetPath          string
	DefaultModel         string
	InferenceTimeout     time.Duration
	IForestTrees         int
	IForestSampleSize    int
	IForestContamination float64
	RandomSeed           int64
	MetricsPort          int
	DashboardPort        int
	ModelServerURL       string
	ModelServerPort      int
	RemoteTimeout        time.Duration
	LogLevel             string
}

type ConfigFile struct {
	Data struct {
		DataPath    string `yaml:"dataPath"`
		ModelsDir   string `yaml:"modelsDir"`
		DatasetPath string `yaml:"datasetPath"`
	} `yaml:"data"`

	Models struct {
		Default          string `yaml:"default"`
		InferenceTimeout string `yaml:"inferenceTimeout"`
		RandomSeed       int64  `yaml:"randomSeed"`
		IsolationForest  struct {
			Trees         int     `yaml:"trees"`
			SampleSize    int     `yaml:"sampleSize"`
			Contamination float64 `yaml:"contamination"`
		} `yaml:"isolationForest"`
		Remote struct {
			URL     string `yaml:"url"`
			Timeout string `yaml:"timeout"`
		} `yaml:"remote"`
	} `yaml:"models"`

	System struct {
		MetricsPort     int    `yaml:"metricsPort"`
		DashboardPort   int    `yaml:"dashboardPort"`
		ModelServerPort int    `yaml:"modelServerPort"`
		LogLevel        string `yaml:"logLevel"`
	} `yaml:"system"`
}

// Load reads settings from CONFIG_FILE when set, otherwise from the environment.
// A .env file in the working directory is loaded first if present.
func Load() (Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Settings{}, fmt.Errorf("failed to load .env: %w", err)
	}

	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	inferenceTimeout, err := time.ParseDuration(config.Models.InferenceTimeout)
	if err != nil {
		inferenceTimeout = 30 * time.Second
	}

	remoteTimeout, err := time.ParseDuration(config.Models.Remote.Timeout)
	if err != nil {
		remoteTimeout = 5 * time.Second
	}

	settings := Settings{
		DataPath:             getEnvOrDefault(common.EnvDataPath, orString(config.Data.DataPath, common.DefaultDataPath)),
		ModelsDir:            getEnvOrDefault(common.EnvModelsDir, orString(config.Data.ModelsDir, common.DefaultModelsDir)),
		DatasetPath:          getEnvOrDefault(common.EnvDatasetPath, orString(config.Data.DatasetPath, common.DefaultDatasetPath)),
		DefaultModel:         getEnvOrDefault(common.EnvDefaultModel, orString(config.Models.Default, common.DefaultModel)),
		InferenceTimeout:     getDurationOrDefault(common.EnvInferenceTimeout, inferenceTimeout),
		IForestTrees:         getIntFromEnvOrConfig(common.EnvIForestTrees, config.Models.IsolationForest.Trees, common.DefaultIForestTrees),
		IForestSampleSize:    getIntFromEnvOrConfig(common.EnvIForestSampleSize, config.Models.IsolationForest.SampleSize, common.DefaultIForestSampleSize),
		IForestContamination: getFloatFromEnvOrConfig(common.EnvIForestContamination, config.Models.IsolationForest.Contamination, common.DefaultIForestContamination),
		RandomSeed:           int64(getIntFromEnvOrConfig(common.EnvRandomSeed, int(config.Models.RandomSeed), common.DefaultRandomSeed)),
		MetricsPort:          getIntFromEnvOrConfig(common.EnvMetricsPort, config.System.MetricsPort, common.DefaultMetricsPort),
		DashboardPort:        getIntFromEnvOrConfig(common.EnvDashboardPort, config.System.DashboardPort, common.DefaultDashboardPort),
		ModelServerURL:       getEnvOrDefault(common.EnvModelServerURL, config.Models.Remote.URL),
		ModelServerPort:      getIntFromEnvOrConfig(common.EnvModelServerPort, config.System.ModelServerPort, common.DefaultModelServerPort),
		RemoteTimeout:        getDurationOrDefault(common.EnvRemoteTimeout, remoteTimeout),
		LogLevel:             getEnvOrDefault(common.EnvLogLevel, orString(config.System.LogLevel, common.DefaultLogLevel)),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		DataPath:             getEnvOrDefault(common.EnvDataPath, common.DefaultDataPath),
		ModelsDir:            getEnvOrDefault(common.EnvModelsDir, common.DefaultModelsDir),
		DatasetPath:          getEnvOrDefault(common.EnvDatasetPath, common.DefaultDatasetPath),
		DefaultModel:         getEnvOrDefault(common.EnvDefaultModel, common.DefaultModel),
		InferenceTimeout:     getDurationOrDefault(common.EnvInferenceTimeout, 30*time.Second),
		IForestTrees:         getIntOrDefault(common.EnvIForestTrees, common.DefaultIForestTrees),
		IForestSampleSize:    getIntOrDefault(common.EnvIForestSampleSize, common.DefaultIForestSampleSize),
		IForestContamination: getFloatOrDefault(common.EnvIForestContamination, common.DefaultIForestContamination),
		RandomSeed:           int64(getIntOrDefault(common.EnvRandomSeed, common.DefaultRandomSeed)),
		MetricsPort:          getIntOrDefault(common.EnvMetricsPort, common.DefaultMetricsPort),
		DashboardPort:        getIntOrDefault(common.EnvDashboardPort, common.DefaultDashboardPort),
		ModelServerURL:       os.Getenv(common.EnvModelServerURL), // optional
		ModelServerPort:      getIntOrDefault(common.EnvModelServerPort, common.DefaultModelServerPort),
		RemoteTimeout:        getDurationOrDefault(common.EnvRemoteTimeout, 5*time.Second),
		LogLevel:             getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func validateSettings(settings *Settings) error {
	if settings.DataPath == "" {
		return fmt.Errorf("data path cannot be empty")
	}
	if settings.ModelsDir == "" {
		return fmt.Errorf("models directory cannot be empty")
	}

	switch settings.DefaultModel {
	case common.ModelIsolationForest, common.ModelXGBoost:
	default:
		return fmt.Errorf("default model must be %q or %q, got %q",
			common.ModelIsolationForest, common.ModelXGBoost, settings.DefaultModel)
	}

	if settings.InferenceTimeout < time.Second || settings.InferenceTimeout > 10*time.Minute {
		return fmt.Errorf("inference timeout must be between 1s and 10m, got %v", settings.InferenceTimeout)
	}
	if settings.RemoteTimeout < 100*time.Millisecond || settings.RemoteTimeout > time.Minute {
		return fmt.Errorf("remote timeout must be between 100ms and 1m, got %v", settings.RemoteTimeout)
	}

	if settings.IForestTrees <= 0 || settings.IForestTrees > 5000 {
		return fmt.Errorf("isolation forest trees must be between 1 and 5000, got %d", settings.IForestTrees)
	}
	if settings.IForestSampleSize < 2 || settings.IForestSampleSize > 100000 {
		return fmt.Errorf("isolation forest sample size must be between 2 and 100000, got %d", settings.IForestSampleSize)
	}
	if settings.IForestContamination <= 0 || settings.IForestContamination > 0.5 {
		return fmt.Errorf("contamination must be in (0, 0.5], got %f", settings.IForestContamination)
	}

	for name, port := range map[string]int{
		"metrics":      settings.MetricsPort,
		"dashboard":    settings.DashboardPort,
		"model server": settings.ModelServerPort,
	} {
		if port < 1024 || port > 65535 {
			return fmt.Errorf("%s port must be between 1024 and 65535, got %d", name, port)
		}
	}

	return nil
}
