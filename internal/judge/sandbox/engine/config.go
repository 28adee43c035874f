package engine

const (
	DriverNative = "native"
	DriverDocker = "docker"

	defaultStdoutStderrMaxBytes int64 = 64 * 1024
	defaultGraceMs              int64 = 200
)

// Config controls sandbox engine behavior.
type Config struct {
	Driver               string       `yaml:"driver"`
	CgroupRoot           string       `yaml:"cgroupRoot"`
	SeccompDir           string       `yaml:"seccompDir"`
	HelperPath           string       `yaml:"helperPath"`
	StdoutStderrMaxBytes int64        `yaml:"stdoutStderrMaxBytes"`
	GraceMs              int64        `yaml:"graceMs"`
	EnableSeccomp        bool         `yaml:"enableSeccomp"`
	EnableCgroup         bool         `yaml:"enableCgroup"`
	EnableNamespaces     bool         `yaml:"enableNamespaces"`
	Docker               DockerConfig `yaml:"docker"`
}

// DockerConfig configures the container driver.
type DockerConfig struct {
	Host       string `yaml:"host"`
	APIVersion string `yaml:"apiVersion"`
	User       string `yaml:"user"`
	PullImages bool   `yaml:"pullImages"`
}

func (c *Config) applyDefaults() {
	if c.StdoutStderrMaxBytes <= 0 {
		c.StdoutStderrMaxBytes = defaultStdoutStderrMaxBytes
	}
	if c.GraceMs <= 0 {
		c.GraceMs = defaultGraceMs
	}
	if c.HelperPath == "" {
		c.HelperPath = "sandbox-init"
	}
}
