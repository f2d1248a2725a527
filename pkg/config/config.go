package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"github.com/cosiner/argv"
	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".refscan"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Weight is the default progress weighting policy for all-modules
	// searches: "equal" or "bytes".
	Weight string `yaml:"weight"`

	// Parallel scans the modules of all-modules searches concurrently by
	// default.
	Parallel bool `yaml:"parallel"`

	// Presets are named command lines, run with "refscan preset <name>".
	Presets map[string]string `yaml:"presets"`
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Printf("Unable to read config data: %v.", err)
		return &Config{}
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return &Config{}
	}

	return &c
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

// ExpandPreset splits the named preset into command line arguments, with
// shell-style quoting.
func (c *Config) ExpandPreset(name string) ([]string, error) {
	cmdline, ok := c.Presets[name]
	if !ok {
		return nil, fmt.Errorf("preset %q not defined", name)
	}
	v, err := argv.Argv(cmdline, nil, nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal preset command line %q", cmdline)
	}
	return v[0], nil
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for refscan.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Progress weighting for searches spanning every module: "equal" gives every
# module the same share of the overall percentage regardless of its size,
# "bytes" weights modules by size.
# weight: equal

# Scan the modules of an all-modules search concurrently.
# parallel: false

# Named search command lines, run with "refscan preset <name>".
presets:
  # find-main-calls: "calls 0x401000 --scope all"
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
