package types

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Duration decodes YAML strings such as "45m" into a time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Finding is one suppressed tool finding, e.g. a security advisory id.
type Finding struct {
	ID      string `yaml:"id"`
	AddedOn string `yaml:"added_on"`
	Reason  string `yaml:"reason,omitempty"`
}

// Suppression is handed to the stage's tool as repeated "<flag> <id>"
// arguments. The engine does not interpret the findings.
type Suppression struct {
	Flag     string    `yaml:"flag"`
	Findings []Finding `yaml:"findings"`
}

type Stage struct {
	Name     string       `yaml:"name"`
	Command  string       `yaml:"command"`
	Fatal    *bool        `yaml:"fatal,omitempty"`
	Timeout  Duration     `yaml:"timeout,omitempty"`
	Suppress *Suppression `yaml:"suppress,omitempty"`
}

// IsFatal reports whether a failure of the stage aborts the run. Stages are
// fatal unless explicitly configured otherwise.
func (s Stage) IsFatal() bool {
	return s.Fatal == nil || *s.Fatal
}

func (s Stage) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout)
}

// CommandLine is the command with suppressed findings appended.
func (s Stage) CommandLine() string {
	if s.Suppress == nil || len(s.Suppress.Findings) == 0 {
		return s.Command
	}
	var b strings.Builder
	b.WriteString(s.Command)
	for _, f := range s.Suppress.Findings {
		b.WriteString(" ")
		b.WriteString(s.Suppress.Flag)
		b.WriteString(" ")
		b.WriteString(f.ID)
	}
	return b.String()
}

type CacheSpec struct {
	Manifests []string `yaml:"manifests"`
	Paths     []string `yaml:"paths"`
}

type Pipeline struct {
	Name       string    `yaml:"name"`
	Repository string    `yaml:"repository"`
	Cache      CacheSpec `yaml:"cache"`
	Stages     []Stage   `yaml:"stages"`
}

func LoadPipeline(path string) (*Pipeline, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline: %w", err)
	}
	return ParsePipeline(b)
}

func ParsePipeline(b []byte) (*Pipeline, error) {
	p := new(Pipeline)
	if err := yaml.Unmarshal(b, p); err != nil {
		return nil, fmt.Errorf("parsing pipeline: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validating pipeline: %w", err)
	}
	return p, nil
}

func (p *Pipeline) Validate() error {
	if len(p.Stages) == 0 {
		return errors.New("at least one stage is required")
	}
	seen := make(map[string]bool, len(p.Stages))
	for i, s := range p.Stages {
		if s.Name == "" {
			return fmt.Errorf("stage %d: name is required", i+1)
		}
		if seen[s.Name] {
			return fmt.Errorf("stage %q: duplicate name", s.Name)
		}
		seen[s.Name] = true
		if strings.TrimSpace(s.Command) == "" {
			return fmt.Errorf("stage %q: command is required", s.Name)
		}
		if s.Timeout < 0 {
			return fmt.Errorf("stage %q: timeout must not be negative", s.Name)
		}
		if s.Suppress != nil {
			if s.Suppress.Flag == "" {
				return fmt.Errorf("stage %q: suppress.flag is required", s.Name)
			}
			for _, f := range s.Suppress.Findings {
				if f.ID == "" {
					return fmt.Errorf("stage %q: suppressed finding without id", s.Name)
				}
				if _, err := time.Parse(time.DateOnly, f.AddedOn); err != nil {
					return fmt.Errorf("stage %q: finding %s: added_on must be YYYY-MM-DD", s.Name, f.ID)
				}
			}
		}
	}
	return nil
}

const defaultPipeline = `name: verify
cache:
  manifests:
    - Cargo.lock
  paths:
    - target
stages:
  - name: format
    command: cargo fmt -- --check
  - name: lint
    command: cargo clippy --workspace -- -D warnings
  - name: audit
    command: cargo audit
    suppress:
      flag: --ignore
      # example entries showing the format; a pipeline file lists the
      # advisories the project has actually reviewed
      findings:
        - id: RUSTSEC-2020-0071
          added_on: "2022-05-02"
        - id: RUSTSEC-2021-0127
          added_on: "2022-05-02"
  - name: test
    command: cargo test --workspace --release
    timeout: 60m
`

// DefaultPipeline is the format, lint, audit and test schedule used when no
// pipeline file is present.
func DefaultPipeline() *Pipeline {
	p, err := ParsePipeline([]byte(defaultPipeline))
	if err != nil {
		panic(err)
	}
	return p
}
