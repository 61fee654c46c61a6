package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Template returns a starter file for kind ("host" or "client") in the
// format implied by ext (".toml", ".yaml" or ".yml").
func Template(kind, ext string) (string, error) {
	yml := false
	switch strings.ToLower(ext) {
	case ".toml":
	case ".yaml", ".yml":
		yml = true
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, ext)
	}
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "host":
		if yml {
			return hostTemplateYAML, nil
		}
		return hostTemplate, nil
	case "client":
		if yml {
			return clientTemplateYAML, nil
		}
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind, filepath.Ext(path))
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const hostTemplate = `name = "contractd"
socket_addr = "127.0.0.1:7300"
http_addr = "127.0.0.1:7380"
base_path = "/contracts"
websocket_path = "/contracts/ws"
cors_origins = ["http://localhost:3000"]
buffer_size = 4096
max_payload = 8388608
rate_limit = 100.0
rate_burst = 200

[users]
ada = "lovelace"

[tls]
enabled = false
`

const hostTemplateYAML = `name: contractd
socket_addr: 127.0.0.1:7300
http_addr: 127.0.0.1:7380
base_path: /contracts
websocket_path: /contracts/ws
cors_origins: ["http://localhost:3000"]
buffer_size: 4096
max_payload: 8388608
rate_limit: 100
rate_burst: 200
users:
  ada: lovelace
tls:
  enabled: false
`

const clientTemplate = `default = "local"

[[domains]]
name = "local"
host = "127.0.0.1"
port = 7300
mode = "socket"
response_timeout = "30s"
connect_timeout = "5s"
session = "static"

[[domains]]
name = "local-http"
host = "127.0.0.1"
port = 7380
mode = "http"
session = "cookie"
keep_alive = false

[domains.headers]
X-Client = "contractctl"
`

const clientTemplateYAML = `default: local
domains:
  - name: local
    host: 127.0.0.1
    port: 7300
    mode: socket
    response_timeout: 30s
    connect_timeout: 5s
    session: static
  - name: local-http
    host: 127.0.0.1
    port: 7380
    mode: http
    session: cookie
    keep_alive: false
    headers:
      X-Client: contractctl
`
