package config

import (
	"crypto/tls"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/contractrpc/internal/domain"
	"github.com/danmuck/contractrpc/internal/protocol/frame"
	"github.com/danmuck/contractrpc/internal/testutil/testlog"
	"github.com/danmuck/contractrpc/internal/testutil/tlstest"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadHostConfigDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "host.toml", `
name = "calc-host"
http_addr = ":9090"
rate_limit = 5.0
rate_burst = 10

[users]
ada = "lovelace"
`)
	cfg, err := LoadHostConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "calc-host" || cfg.HTTPAddr != ":9090" {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.SocketAddr != "127.0.0.1:7300" || cfg.BasePath != "/contracts" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if cfg.Users["ada"] != "lovelace" {
		t.Fatalf("unexpected users: %+v", cfg.Users)
	}
	if got := len(cfg.HostOptions()); got != 2 {
		t.Fatalf("expected name and rate limit options, got %d", got)
	}
	if cfg.Limits().MaxPayloadBytes == 0 {
		t.Fatalf("expected default frame limits")
	}
}

func TestLoadClientConfigTOMLAndYAMLAgree(t *testing.T) {
	testlog.Start(t)
	tomlPath := writeFile(t, "client.toml", `
[[domains]]
name = "calc"
port = 7300
response_timeout = "250ms"

[[domains]]
name = "calc-http"
port = 7380
mode = "HTTP"
session = "cookie"
keep_alive = false

[domains.headers]
X-Client = "test"
`)
	yamlPath := writeFile(t, "client.yaml", `
domains:
  - name: calc
    port: 7300
    response_timeout: 250ms
  - name: calc-http
    port: 7380
    mode: HTTP
    session: cookie
    keep_alive: false
    headers:
      X-Client: test
`)
	for _, path := range []string{tomlPath, yamlPath} {
		cfg, err := LoadClientConfig(path)
		if err != nil {
			t.Fatalf("load %s: %v", filepath.Base(path), err)
		}
		if cfg.Default != "calc" || len(cfg.Domains) != 2 {
			t.Fatalf("%s: unexpected profile: %+v", filepath.Base(path), cfg)
		}
		first, err := cfg.Domain("")
		if err != nil {
			t.Fatalf("default domain: %v", err)
		}
		if first.Host != "127.0.0.1" || first.Mode != "socket" || !*first.KeepAlive {
			t.Fatalf("%s: defaults not applied: %+v", filepath.Base(path), first)
		}
		if first.ResponseTimeout.Std() != 250*time.Millisecond {
			t.Fatalf("%s: timeout = %s", filepath.Base(path), first.ResponseTimeout)
		}
		second, err := cfg.Domain("CALC-HTTP")
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
		if second.Mode != "http" || *second.KeepAlive || second.Headers["X-Client"] != "test" {
			t.Fatalf("%s: unexpected second domain: %+v", filepath.Base(path), second)
		}
	}
}

func TestBufferSizeAndMaxPayloadAreSeparate(t *testing.T) {
	testlog.Start(t)
	host, err := LoadHostConfig(writeFile(t, "host.toml", "buffer_size = 4096\nmax_payload = 1048576\n"))
	if err != nil {
		t.Fatalf("load host: %v", err)
	}
	if got := host.Limits().MaxPayloadBytes; got != 1<<20 {
		t.Fatalf("host max payload = %d", got)
	}
	host.MaxPayload = 0
	if got := host.Limits().MaxPayloadBytes; got != frame.DefaultLimits().MaxPayloadBytes {
		t.Fatalf("buffer_size leaked into the payload cap: %d", got)
	}

	client, err := LoadClientConfig(writeFile(t, "client.yaml", `
domains:
  - name: calc
    port: 7300
    buffer_size: 4096
    max_payload: 65536
`))
	if err != nil {
		t.Fatalf("load client: %v", err)
	}
	dc, err := client.Domains[0].Config()
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if dc.BufferSize != 4096 || dc.MaxPayload != 65536 {
		t.Fatalf("domain config = %+v", dc)
	}
}

func TestUnknownKeysAreRejected(t *testing.T) {
	testlog.Start(t)
	tomlPath := writeFile(t, "host.toml", "name = \"x\"\nsokcet_addr = \"oops\"\n")
	if _, err := LoadHostConfig(tomlPath); !errors.Is(err, ErrUnknownKeys) {
		t.Fatalf("expected ErrUnknownKeys, got %v", err)
	}
	yamlPath := writeFile(t, "host.yml", "name: x\nsokcet_addr: oops\n")
	if _, err := LoadHostConfig(yamlPath); err == nil {
		t.Fatalf("expected yaml unknown field error")
	}
	if _, err := LoadHostConfig(writeFile(t, "host.ini", "")); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
}

func TestValidation(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"no domains":     ``,
		"bad port":       "[[domains]]\nname = \"a\"\nport = 70000\n",
		"bad mode":       "[[domains]]\nname = \"a\"\nport = 1\nmode = \"carrier-pigeon\"\n",
		"duplicate":      "[[domains]]\nname = \"a\"\nport = 1\n[[domains]]\nname = \"A\"\nport = 2\n",
		"missing def":    "default = \"b\"\n[[domains]]\nname = \"a\"\nport = 1\n",
		"mutual no ca":   "[[domains]]\nname = \"a\"\nport = 1\n[domains.tls]\nenabled = true\nmutual = true\n",
		"half a keypair": "[[domains]]\nname = \"a\"\nport = 1\n[domains.tls]\nenabled = true\ncert_file = \"c.pem\"\n",
	}
	for name, body := range cases {
		if _, err := LoadClientConfig(writeFile(t, "client.toml", body)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	host := DefaultHostConfig()
	host.RateBurst = 0
	if err := host.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for zero burst, got %v", err)
	}
}

func TestTemplatesLoad(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	for _, ext := range []string{".toml", ".yaml"} {
		hostPath := filepath.Join(dir, "host"+ext)
		if err := WriteTemplate(hostPath, "host", false); err != nil {
			t.Fatalf("write host template: %v", err)
		}
		if _, err := LoadHostConfig(hostPath); err != nil {
			t.Fatalf("load host template %s: %v", ext, err)
		}
		clientPath := filepath.Join(dir, "client"+ext)
		if err := WriteTemplate(clientPath, "client", false); err != nil {
			t.Fatalf("write client template: %v", err)
		}
		cfg, err := LoadClientConfig(clientPath)
		if err != nil {
			t.Fatalf("load client template %s: %v", ext, err)
		}
		reg, err := cfg.Registry()
		if err != nil {
			t.Fatalf("registry: %v", err)
		}
		if names := reg.Names(); len(names) != 2 || names[0] != "local" {
			t.Fatalf("names = %v", names)
		}
		d, _ := reg.Get("local-http")
		if d.Config().Session != domain.SessionCookie {
			t.Fatalf("session = %q", d.Config().Session)
		}
		if err := WriteTemplate(clientPath, "client", false); err == nil {
			t.Fatalf("expected refusal to overwrite")
		}
	}
}

func TestTLSConfigsHandshake(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "test-ca")
	server := ca.IssueServer(t, dir, "contractd")
	client := ca.IssueClient(t, dir, "contractctl")

	serverCfg, err := TLSConfig{Enabled: true, CertFile: server.CertFile, KeyFile: server.KeyFile, CAFile: ca.CAFile(), Mutual: true}.ServerTLS()
	if err != nil {
		t.Fatalf("server tls: %v", err)
	}
	clientCfg, err := TLSConfig{Enabled: true, CertFile: client.CertFile, KeyFile: client.KeyFile, CAFile: ca.CAFile(), ServerName: "localhost"}.ClientTLS()
	if err != nil {
		t.Fatalf("client tls: %v", err)
	}
	if off, _ := (TLSConfig{}).ClientTLS(); off != nil {
		t.Fatalf("disabled tls should yield nil config")
	}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	errs := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			errs <- err
			return
		}
		defer conn.Close()
		errs <- conn.(*tls.Conn).Handshake()
	}()
	cli, err := tls.Dial("tcp", ln.Addr().String(), clientCfg)
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	defer cli.Close()
	if err := <-errs; err != nil {
		t.Fatalf("server handshake: %v", err)
	}
	if peers := cli.ConnectionState().PeerCertificates; len(peers) == 0 || peers[0].Subject.CommonName != "contractd" {
		t.Fatalf("unexpected peer: %+v", peers)
	}
}
