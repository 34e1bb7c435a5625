package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".wasmsym"
	configFile string = "config.yml"
)

// SubstitutePathRule describes a rule for substitution of path to source code file.
type SubstitutePathRule struct {
	// Directory path will be substituted if it matches `From`.
	From string
	// Path to which substitution is performed.
	To string
}

// SubstitutePathRules is a slice of source code path substitution rules.
type SubstitutePathRules []SubstitutePathRule

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Source code path substitution rules. Used to rewrite compile
	// directories recorded in debug information onto local checkouts.
	SubstitutePath SubstitutePathRules `yaml:"substitute-path"`

	// Demangle controls whether resolved function names are demangled.
	// Defaults to true.
	Demangle *bool `yaml:"demangle,omitempty"`

	// CacheSize is the capacity of the resolved-frame cache.
	CacheSize *int `yaml:"cache-size,omitempty"`

	// Interactive shell prompt color (3/4 bit color codes as defined
	// here: https://en.wikipedia.org/wiki/ANSI_escape_code#Colors)
	PromptColor int `yaml:"prompt-color"`
}

// DemangleEnabled reports the demangle setting, defaulting to on.
func (c *Config) DemangleEnabled() bool {
	return c.Demangle == nil || *c.Demangle
}

// ResolveCacheSize reports the cache size setting, with its default.
func (c *Config) ResolveCacheSize() int {
	if c.CacheSize == nil || *c.CacheSize < 0 {
		return 256
	}
	return *c.CacheSize
}

// Rules converts the substitution rules to the pair form the
// symbolizer accepts.
func (c *Config) Rules() [][2]string {
	rules := make([][2]string, 0, len(c.SubstitutePath))
	for _, r := range c.SubstitutePath {
		rules = append(rules, [2]string{r.From, r.To})
	}
	return rules
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

// LoadConfigFromFile reads a config from an explicit path instead of
// the default location. Unlike LoadConfig it fails loudly: an explicit
// path that cannot be read is an error.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
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
		`# Configuration file for wasmsym.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Define sources path substitution rules. Can be used to rewrite a source path stored
# in a module's debug information, if the sources were moved to a different place
# between compilation and symbolization.
substitute-path:
  # - {from: path, to: path}

# Uncomment to report function names exactly as recorded in the debug
# information instead of demangling them.
# demangle: false

# Capacity of the resolved-frame cache.
# cache-size: 256

# Uncomment the following line and set your preferred ANSI foreground
# color for the interactive prompt (if unset, default is 34, dark blue).
# See https://en.wikipedia.org/wiki/ANSI_escape_code#3/4_bit
# prompt-color: 34
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
