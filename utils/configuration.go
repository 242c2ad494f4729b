package utils

import (
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v4"
)

var (
	// environment variables that were set via .env file
	dotEnvValues = map[string]string{}

	concurrency = true
)

func ConcurrencyIsEnabled() bool {
	return concurrency
}

func SetConcurrencyEnabled(enabled bool) {
	concurrency = enabled
}

func getEnvValue(envName, defaultValue string) (val string, dotEnvSource bool) {
	val = os.Getenv(envName)
	if val == "" {
		return defaultValue, false
	}

	_, exists := dotEnvValues[envName]
	return val, exists
}

func LoadEnvFile(envFilePath string) error {
	content, err := os.ReadFile(envFilePath)
	if err != nil {
		return fmt.Errorf("unable to load env file: %s", envFilePath)
	}

	// config files and .env files get mixed up easily
	var yamlCheck map[string]any
	ext := path.Ext(envFilePath)
	err = yaml.Unmarshal(content, &yamlCheck)
	if err == nil || ext == ".yaml" || ext == ".yml" {
		return fmt.Errorf("file %q appears to be a YAML file, but an .env file is required (KEY=VALUE format)", envFilePath)
	}

	file, err := os.Open(envFilePath)
	if err != nil {
		return err
	}
	defer file.Close()

	values, err := godotenv.Parse(file)
	if err != nil {
		return err
	}

	for key, value := range values {
		// shell environment variables have precedence over .env file values
		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
			dotEnvValues[key] = value
		}
	}

	return nil
}

// LoadConfig reads the yaml config file. A missing file yields an empty config.
func LoadConfig(configFile string) (*Config, error) {
	config := NewConfig()
	if configFile == "" {
		return config, nil
	}

	err := config.LoadFile(configFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Join(fmt.Errorf("path: %s", configFile), err)
	}

	for k, v := range config.GetAll("env") {
		if v == nil {
			continue
		}
		config.Env[k] = fmt.Sprintf("%v", v)
	}

	return config, nil
}

// ApplyEnv exports the config's env section unless the shell already set it.
func (c *Config) ApplyEnv() {
	for k, v := range c.Env {
		if _, exists := os.LookupEnv(k); !exists {
			_ = os.Setenv(k, v)
		}
	}
}
