// Package mongoconf reads local mongod configuration files and extracts the
// settings the detector needs: bind addresses and TLS configuration.
package mongoconf

import (
	"bufio"
	"bytes"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/peternagy/mongostate/internal/types"
)

// DefaultPaths are the well-known config locations, in lookup order.
var DefaultPaths = []string{
	"/etc/mongod.conf",
	"/etc/mongodb.conf",
	"/usr/local/etc/mongod.conf",
}

// TLSSettings holds the transport block found in a config file.
type TLSSettings struct {
	Keyword            string // mode as written, e.g. "requireTLS"
	Mode               types.TLSMode
	CertificateKeyFile string
	CAFile             string
	Legacy             bool // came from net.ssl / sslMode
}

// Settings are the values extracted from a config file. Absent values stay
// zero: BindIPs nil, TLS nil, Port 0.
type Settings struct {
	Path    string
	BindIPs []string
	Port    int
	TLS     *TLSSettings
}

// Empty reports whether nothing useful was found.
func (s Settings) Empty() bool {
	return len(s.BindIPs) == 0 && s.TLS == nil
}

// BindIP returns the bind addresses joined the way mongod writes them.
func (s Settings) BindIP() string {
	return strings.Join(s.BindIPs, ",")
}

// TLSConfig converts the file settings into a file-sourced TLSConfig.
func (s Settings) TLSConfig() types.TLSConfig {
	if s.TLS == nil {
		return types.TLSConfig{}
	}
	return types.TLSConfig{
		Enabled:            s.TLS.Mode.Enabled(),
		Mode:               s.TLS.Mode,
		CertificateKeyFile: s.TLS.CertificateKeyFile,
		CAFile:             s.TLS.CAFile,
		Source:             types.TLSSourceConfigFile,
	}
}

// yamlConfig mirrors the parts of the mongod YAML format we read.
type yamlConfig struct {
	Net struct {
		Port   int    `yaml:"port"`
		BindIP string `yaml:"bindIp"`
		TLS    *struct {
			Mode               string `yaml:"mode"`
			CertificateKeyFile string `yaml:"certificateKeyFile"`
			CAFile             string `yaml:"CAFile"`
		} `yaml:"tls"`
		SSL *struct {
			Mode       string `yaml:"mode"`
			PEMKeyFile string `yaml:"PEMKeyFile"`
			CAFile     string `yaml:"CAFile"`
		} `yaml:"ssl"`
	} `yaml:"net"`
}

// Scan returns the settings of the first readable file in paths that yields
// a non-empty result. Missing or unreadable files are skipped.
func Scan(paths []string) Settings {
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		s := Parse(data)
		if s.Empty() {
			continue
		}
		s.Path = p
		return s
	}
	return Settings{}
}

// Parse extracts settings from config file contents. YAML is tried first;
// content that is not a YAML mapping is read as the legacy key = value format.
func Parse(data []byte) Settings {
	if s, ok := parseYAML(data); ok {
		return s
	}
	return parseLegacy(data)
}

func parseYAML(data []byte) (Settings, bool) {
	var cfg yamlConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Settings{}, false
	}

	s := Settings{
		Port:    cfg.Net.Port,
		BindIPs: SplitBindIP(cfg.Net.BindIP),
	}

	// net.tls wins; net.ssl is only consulted when no tls block exists.
	switch {
	case cfg.Net.TLS != nil && cfg.Net.TLS.Mode != "":
		s.TLS = &TLSSettings{
			Keyword:            cfg.Net.TLS.Mode,
			Mode:               types.NormalizeTLSMode(cfg.Net.TLS.Mode),
			CertificateKeyFile: cfg.Net.TLS.CertificateKeyFile,
			CAFile:             cfg.Net.TLS.CAFile,
		}
	case cfg.Net.SSL != nil && cfg.Net.SSL.Mode != "":
		s.TLS = &TLSSettings{
			Keyword:            cfg.Net.SSL.Mode,
			Mode:               types.NormalizeTLSMode(cfg.Net.SSL.Mode),
			CertificateKeyFile: cfg.Net.SSL.PEMKeyFile,
			CAFile:             cfg.Net.SSL.CAFile,
			Legacy:             true,
		}
	}

	if s.Empty() && s.Port == 0 && !looksLikeYAML(data) {
		return Settings{}, false
	}
	return s, true
}

// looksLikeYAML guards against INI files that happen to decode as a YAML scalar.
func looksLikeYAML(data []byte) bool {
	for _, line := range bytes.Split(data, []byte("\n")) {
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 || trimmed[0] == '#' {
			continue
		}
		return bytes.Contains(trimmed, []byte(":")) && !bytes.Contains(trimmed, []byte("="))
	}
	return false
}

func parseLegacy(data []byte) Settings {
	var s Settings
	var tls TLSSettings
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		switch strings.ToLower(key) {
		case "bind_ip", "bindip":
			s.BindIPs = SplitBindIP(value)
		case "port":
			if p, err := strconv.Atoi(value); err == nil {
				s.Port = p
			}
		case "tlsmode", "sslmode":
			if tls.Keyword == "" || strings.EqualFold(key, "tlsMode") {
				tls.Keyword = value
				tls.Mode = types.NormalizeTLSMode(value)
				tls.Legacy = strings.EqualFold(key, "sslMode")
			}
		case "tlscertificatekeyfile", "sslpemkeyfile":
			if tls.CertificateKeyFile == "" || strings.HasPrefix(strings.ToLower(key), "tls") {
				tls.CertificateKeyFile = value
			}
		case "tlscafile", "sslcafile":
			if tls.CAFile == "" || strings.HasPrefix(strings.ToLower(key), "tls") {
				tls.CAFile = value
			}
		}
	}
	if tls.Keyword != "" {
		s.TLS = &tls
	}
	return s
}

// SplitBindIP splits a comma-separated bind list, trimming and deduplicating.
func SplitBindIP(bindIP string) []string {
	if strings.TrimSpace(bindIP) == "" {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, ip := range strings.Split(bindIP, ",") {
		ip = strings.TrimSpace(ip)
		if ip == "" || seen[ip] {
			continue
		}
		seen[ip] = true
		out = append(out, ip)
	}
	return out
}
