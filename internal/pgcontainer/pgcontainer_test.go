package pgcontainer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

type fakeDocker struct {
	mu sync.Mutex

	daemonHost string
	haveImage  bool
	pulled     []string
	startErr   error
	removeErr  error
	exited     bool
	hostPort   string

	created  *container.Config
	hostCfg  *container.HostConfig
	platform *ocispec.Platform
	name     string
	removed  []string

	pullHasDeadline bool
	createDeadline  time.Time
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{daemonHost: "unix:///var/run/docker.sock", haveImage: true, hostPort: "54321"}
}

func (f *fakeDocker) DaemonHost() string { return f.daemonHost }

func (f *fakeDocker) ImageInspect(_ context.Context, ref string, _ ...client.ImageInspectOption) (image.InspectResponse, error) {
	if !f.haveImage {
		return image.InspectResponse{}, cerrdefs.ErrNotFound
	}
	return image.InspectResponse{ID: "sha256:" + ref}, nil
}

func (f *fakeDocker) ImagePull(ctx context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulled = append(f.pulled, ref)
	_, f.pullHasDeadline = ctx.Deadline()
	return io.NopCloser(strings.NewReader(`{"status":"done"}`)), nil
}

func (f *fakeDocker) ContainerCreate(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, _ *network.NetworkingConfig, platform *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created, f.hostCfg, f.platform, f.name = cfg, hostCfg, platform, name
	f.createDeadline, _ = ctx.Deadline()
	return container.CreateResponse{ID: "0123456789abcdef0123"}, nil
}

func (f *fakeDocker) ContainerStart(context.Context, string, container.StartOptions) error {
	return f.startErr
}

func (f *fakeDocker) ContainerInspect(_ context.Context, id string) (container.InspectResponse, error) {
	state := &container.State{Running: !f.exited, Status: "running"}
	if f.exited {
		state.Status = "exited"
		state.ExitCode = 1
	}
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{ID: id, State: state},
		NetworkSettings: &container.NetworkSettings{
			NetworkSettingsBase: container.NetworkSettingsBase{
				Ports: nat.PortMap{postgresPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: f.hostPort}}},
			},
		},
	}, nil
}

func (f *fakeDocker) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	w := stdcopy.NewStdWriter(&buf, stdcopy.Stderr)
	io.WriteString(w, "FATAL: data directory has wrong ownership\n")
	return io.NopCloser(&buf), nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, id string, opts container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !opts.Force || !opts.RemoveVolumes {
		return errors.New("remove must force and remove volumes")
	}
	f.removed = append(f.removed, id)
	return f.removeErr
}

func (f *fakeDocker) Close() error { return nil }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func readyAfter(n int) (ReadyFunc, *int) {
	calls := 0
	return func(ctx context.Context, connString string) error {
		calls++
		if calls < n {
			return errors.New("connection refused")
		}
		return nil
	}, &calls
}

func env(cfg *container.Config) map[string]string {
	m := map[string]string{}
	for _, kv := range cfg.Env {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	return m
}

func TestLaunch(t *testing.T) {
	docker := newFakeDocker()
	ready, calls := readyAfter(2)
	l, err := newLauncher(docker, Options{Logger: discardLogger()}, ready)
	if err != nil {
		t.Fatal(err)
	}

	c, err := l.Launch(context.Background(), "shop")
	if err != nil {
		t.Fatal(err)
	}

	if docker.created.Image != DefaultImage {
		t.Errorf("image = %q, want %q", docker.created.Image, DefaultImage)
	}
	e := env(docker.created)
	if e["POSTGRES_DB"] != "shop" || e["POSTGRES_USER"] != username || len(e["POSTGRES_PASSWORD"]) != 32 {
		t.Errorf("env = %v", e)
	}
	if docker.created.Labels[LabelManaged] != "true" || docker.created.Labels[LabelDatabase] != "shop" {
		t.Errorf("labels = %v", docker.created.Labels)
	}
	if b := docker.hostCfg.PortBindings[postgresPort]; len(b) != 1 || b[0].HostIP != "127.0.0.1" || b[0].HostPort != "0" {
		t.Errorf("port bindings = %v", docker.hostCfg.PortBindings)
	}
	if _, ok := docker.hostCfg.Tmpfs[dataDir]; !ok {
		t.Error("data directory is not on tmpfs")
	}
	if !strings.HasPrefix(docker.name, "pgsourcegen-") {
		t.Errorf("name = %q", docker.name)
	}
	if *calls != 2 {
		t.Errorf("ready calls = %d, want 2", *calls)
	}

	h := c.Handle()
	if h.Host != "127.0.0.1" || h.Port != 54321 || h.Database != "shop" || h.Password != e["POSTGRES_PASSWORD"] {
		t.Errorf("handle = %+v", h)
	}

	if err := c.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(docker.removed) != 1 {
		t.Errorf("removed %d times, want 1", len(docker.removed))
	}
}

func TestLaunchPullsMissingImage(t *testing.T) {
	docker := newFakeDocker()
	docker.haveImage = false
	ready, _ := readyAfter(1)
	l, err := newLauncher(docker, Options{Image: "postgres:17-alpine", Platform: "linux/arm64/v8", Logger: discardLogger()}, ready)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Launch(context.Background(), "shop"); err != nil {
		t.Fatal(err)
	}
	if len(docker.pulled) != 1 || docker.pulled[0] != "postgres:17-alpine" {
		t.Errorf("pulled = %v", docker.pulled)
	}
	if docker.platform == nil || docker.platform.Architecture != "arm64" || docker.platform.Variant != "v8" {
		t.Errorf("platform = %+v", docker.platform)
	}
}

func TestLaunchStartupTimeoutExcludesPull(t *testing.T) {
	docker := newFakeDocker()
	docker.haveImage = false
	ready, _ := readyAfter(1)
	l, err := newLauncher(docker, Options{StartupTimeout: time.Hour, Logger: discardLogger()}, ready)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if _, err := l.Launch(context.Background(), "shop"); err != nil {
		t.Fatal(err)
	}
	if docker.pullHasDeadline {
		t.Error("image pull ran under the startup timeout")
	}
	if docker.createDeadline.IsZero() || docker.createDeadline.Before(start.Add(time.Hour)) {
		t.Errorf("create deadline = %v, want the startup timeout counted from after the pull", docker.createDeadline)
	}
}

func TestLaunchFailuresRemoveContainer(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*fakeDocker)
		ready  ReadyFunc
		target error
		want   string
	}{
		{
			name:  "start fails",
			setup: func(d *fakeDocker) { d.startErr = errors.New("port is already allocated") },
			want:  "port is already allocated",
		},
		{
			name:   "container exits",
			setup:  func(d *fakeDocker) { d.exited = true },
			target: ErrExited,
			want:   "wrong ownership",
		},
		{
			name:  "port not published",
			setup: func(d *fakeDocker) { d.hostPort = "" },
			want:  "not published",
		},
		{
			name:  "never ready",
			setup: func(*fakeDocker) {},
			ready: func(context.Context, string) error { return errors.New("connection refused") },
			want:  "not ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docker := newFakeDocker()
			tt.setup(docker)
			ready := tt.ready
			if ready == nil {
				ready, _ = readyAfter(1)
			}
			l, err := newLauncher(docker, Options{StartupTimeout: 600 * time.Millisecond, Logger: discardLogger()}, ready)
			if err != nil {
				t.Fatal(err)
			}

			_, err = l.Launch(context.Background(), "shop")
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to contain %q", err, tt.want)
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("err = %v, want %v", err, tt.target)
			}
			if len(docker.removed) != 1 {
				t.Errorf("container removed %d times, want 1", len(docker.removed))
			}
		})
	}
}

func TestStopNotFound(t *testing.T) {
	docker := newFakeDocker()
	docker.removeErr = cerrdefs.ErrNotFound
	c := &Container{api: docker, id: "abc", logger: discardLogger()}
	if err := c.Stop(context.Background()); err != nil {
		t.Errorf("Stop() = %v, want nil for a missing container", err)
	}
}

func TestStopError(t *testing.T) {
	docker := newFakeDocker()
	docker.removeErr = errors.New("daemon unavailable")
	c := &Container{api: docker, id: "abc", logger: discardLogger()}
	if err := c.Stop(context.Background()); err == nil || !strings.Contains(err.Error(), "daemon unavailable") {
		t.Errorf("Stop() = %v", err)
	}
}

func TestLaunchRequiresDatabase(t *testing.T) {
	l, err := newLauncher(newFakeDocker(), Options{Logger: discardLogger()}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Launch(context.Background(), ""); err == nil {
		t.Error("expected error")
	}
}

func TestConnString(t *testing.T) {
	h := Handle{Host: "127.0.0.1", Port: 5433, Database: "shop", Username: "u", Password: "p@ss/word"}
	u, err := url.Parse(h.ConnString())
	if err != nil {
		t.Fatal(err)
	}
	if pw, _ := u.User.Password(); pw != "p@ss/word" {
		t.Errorf("password = %q", pw)
	}
	if u.Host != "127.0.0.1:5433" || u.Path != "/shop" || u.Query().Get("sslmode") != "disable" {
		t.Errorf("conn string = %s", h.ConnString())
	}
}

func TestDaemonAddress(t *testing.T) {
	tests := []struct {
		daemonHost string
		local      bool
		host       string
	}{
		{"unix:///var/run/docker.sock", true, "127.0.0.1"},
		{"npipe:////./pipe/docker_engine", true, "127.0.0.1"},
		{"tcp://localhost:2375", true, "127.0.0.1"},
		{"tcp://127.0.0.1:2375", true, "127.0.0.1"},
		{"tcp://docker.internal:2376", false, "docker.internal"},
	}
	for _, tt := range tests {
		local, host := daemonAddress(tt.daemonHost)
		if local != tt.local || host != tt.host {
			t.Errorf("daemonAddress(%q) = %v, %q, want %v, %q", tt.daemonHost, local, host, tt.local, tt.host)
		}
	}
}

func TestParsePlatform(t *testing.T) {
	if p, err := parsePlatform(""); p != nil || err != nil {
		t.Errorf("parsePlatform(\"\") = %v, %v", p, err)
	}
	p, err := parsePlatform("linux/amd64")
	if err != nil || p.OS != "linux" || p.Architecture != "amd64" {
		t.Errorf("parsePlatform(linux/amd64) = %+v, %v", p, err)
	}
	for _, bad := range []string{"linux", "/amd64", "a/b/c/d"} {
		if _, err := parsePlatform(bad); err == nil {
			t.Errorf("parsePlatform(%q) succeeded", bad)
		}
	}
}
