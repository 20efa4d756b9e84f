package vrend

import (
	"io/fs"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
)

// Config is the on-disk renderer configuration.
type Config struct {
	App      AppConfig      `toml:"app"`
	Window   WindowConfig   `toml:"window"`
	Renderer RendererConfig `toml:"renderer"`
	Log      LogConfig      `toml:"log"`
}

type AppConfig struct {
	Name       string `toml:"name"`
	Validation bool   `toml:"validation"`
}

type WindowConfig struct {
	Width  int    `toml:"width"`
	Height int    `toml:"height"`
	Title  string `toml:"title"`
}

type RendererConfig struct {
	// DescriptorBatchSize is the number of sets each descriptor pool holds.
	DescriptorBatchSize uint32     `toml:"descriptor_batch_size"`
	ClearColor          [4]float32 `toml:"clear_color"`
	VertexShader        string     `toml:"vertex_shader"`
	FragmentShader      string     `toml:"fragment_shader"`
	// MaxAnisotropy caps sampler anisotropy, 0 uses the device limit.
	MaxAnisotropy float32 `toml:"max_anisotropy"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		App: AppConfig{
			Name: "vrend",
		},
		Window: WindowConfig{
			Width:  1280,
			Height: 720,
			Title:  "vrend",
		},
		Renderer: RendererConfig{
			DescriptorBatchSize: DefaultPoolBatchSize,
			ClearColor:          [4]float32{0, 0, 0, 1},
			VertexShader:        "shaders/forward.vert.spv",
			FragmentShader:      "shaders/forward.frag.spv",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads a TOML file over the defaults. A missing file yields the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, cfg.Validate()
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Window.Width <= 0 || c.Window.Height <= 0:
		return errors.Newf("window size %dx%d is not positive", c.Window.Width, c.Window.Height)
	case c.Renderer.DescriptorBatchSize == 0:
		return errors.New("renderer.descriptor_batch_size must be positive")
	case c.Renderer.MaxAnisotropy < 0:
		return errors.New("renderer.max_anisotropy must not be negative")
	}
	return nil
}

// Encode renders the configuration as TOML.
func (c Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
