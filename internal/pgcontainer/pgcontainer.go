// Package pgcontainer runs throwaway PostgreSQL servers in Docker
// containers.
package pgcontainer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	DefaultImage          = "postgres:alpine"
	DefaultStartupTimeout = 60 * time.Second

	username     = "pgsourcegen"
	postgresPort = nat.Port("5432/tcp")
	dataDir      = "/var/lib/postgresql"

	// LabelManaged marks containers created by this package.
	LabelManaged  = "org.pgsourcegen.managed"
	LabelDatabase = "org.pgsourcegen.database"

	pollInterval = 250 * time.Millisecond
)

// ErrExited is returned when the container stops before the server
// accepts connections.
var ErrExited = errors.New("container exited before postgres was ready")

// Options configures a Launcher.
type Options struct {
	Image          string
	Platform       string // e.g. "linux/amd64"; empty for the daemon default.
	StartupTimeout time.Duration
	Logger         *slog.Logger
}

// ReadyFunc reports whether the server behind connString accepts
// connections.
type ReadyFunc func(ctx context.Context, connString string) error

// dockerAPI is the subset of the Docker client used by the launcher.
type dockerAPI interface {
	DaemonHost() string
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// Launcher starts PostgreSQL containers.
type Launcher struct {
	api      dockerAPI
	opts     Options
	platform *ocispec.Platform
	ready    ReadyFunc
	logger   *slog.Logger
}

// NewLauncher returns a Launcher using a Docker client configured from
// the environment (DOCKER_HOST and friends).
func NewLauncher(opts Options) (*Launcher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	l, err := newLauncher(cli, opts, pingReady)
	if err != nil {
		cli.Close()
		return nil, err
	}
	return l, nil
}

func newLauncher(api dockerAPI, opts Options, ready ReadyFunc) (*Launcher, error) {
	if opts.Image == "" {
		opts.Image = DefaultImage
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = DefaultStartupTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	platform, err := parsePlatform(opts.Platform)
	if err != nil {
		return nil, err
	}
	return &Launcher{
		api:      api,
		opts:     opts,
		platform: platform,
		ready:    ready,
		logger:   opts.Logger,
	}, nil
}

// Close releases the Docker client. Running containers are not stopped.
func (l *Launcher) Close() error {
	return l.api.Close()
}

// Launch starts a server with an empty database named database and waits
// until it accepts connections. The container is removed if any step
// fails.
func (l *Launcher) Launch(ctx context.Context, database string) (*Container, error) {
	if database == "" {
		return nil, errors.New("database name is required")
	}

	// Pulling is bounded by ctx only. StartupTimeout covers the rest.
	if err := l.ensureImage(ctx); err != nil {
		return nil, fmt.Errorf("pulling image %s: %w", l.opts.Image, err)
	}

	ctx, cancel := context.WithTimeout(ctx, l.opts.StartupTimeout)
	defer cancel()

	password := strings.ReplaceAll(uuid.NewString(), "-", "")
	name := "pgsourcegen-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	local, host := daemonAddress(l.api.DaemonHost())
	bindIP := ""
	if local {
		bindIP = "127.0.0.1"
	}

	cfg := &container.Config{
		Image: l.opts.Image,
		Env: []string{
			"POSTGRES_DB=" + database,
			"POSTGRES_USER=" + username,
			"POSTGRES_PASSWORD=" + password,
		},
		ExposedPorts: nat.PortSet{postgresPort: struct{}{}},
		Labels: map[string]string{
			LabelManaged:  "true",
			LabelDatabase: database,
		},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			postgresPort: []nat.PortBinding{{HostIP: bindIP, HostPort: "0"}},
		},
		Tmpfs: map[string]string{dataDir: "rw"},
	}

	resp, err := l.api.ContainerCreate(ctx, cfg, hostCfg, nil, l.platform, name)
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	c := &Container{api: l.api, id: resp.ID, name: name, logger: l.logger}
	l.logger.Debug("created container", "id", shortID(c.id), "name", name, "image", l.opts.Image)

	fail := func(err error) (*Container, error) {
		stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer stopCancel()
		if stopErr := c.Stop(stopCtx); stopErr != nil {
			l.logger.Warn("failed to remove container", "id", shortID(c.id), "error", stopErr)
		}
		return nil, err
	}

	if err := l.api.ContainerStart(ctx, c.id, container.StartOptions{}); err != nil {
		return fail(fmt.Errorf("starting container: %w", err))
	}

	port, err := l.mappedPort(ctx, c.id)
	if err != nil {
		return fail(err)
	}
	c.handle = Handle{
		Host:     host,
		Port:     port,
		Database: database,
		Username: username,
		Password: password,
	}

	if err := l.waitReady(ctx, c); err != nil {
		return fail(err)
	}
	l.logger.Info("postgres ready", "container", shortID(c.id), "host", host, "port", port, "database", database)
	return c, nil
}

// ensureImage pulls the image if it is not available locally.
func (l *Launcher) ensureImage(ctx context.Context) error {
	if _, err := l.api.ImageInspect(ctx, l.opts.Image); err == nil {
		return nil
	}

	l.logger.Info("pulling image", "image", l.opts.Image)
	opts := image.PullOptions{}
	if l.opts.Platform != "" {
		opts.Platform = l.opts.Platform
	}
	reader, err := l.api.ImagePull(ctx, l.opts.Image, opts)
	if err != nil {
		return err
	}
	defer reader.Close()

	// Consume the pull output to completion.
	_, err = io.Copy(io.Discard, reader)
	return err
}

func (l *Launcher) mappedPort(ctx context.Context, id string) (int, error) {
	info, err := l.api.ContainerInspect(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("inspecting container: %w", err)
	}
	if info.NetworkSettings == nil {
		return 0, errors.New("container has no network settings")
	}
	for _, b := range info.NetworkSettings.Ports[postgresPort] {
		if p, err := strconv.Atoi(b.HostPort); err == nil && p > 0 {
			return p, nil
		}
	}
	return 0, fmt.Errorf("port %s is not published", postgresPort)
}

// waitReady polls until the server accepts connections, the container
// exits or ctx is done.
func (l *Launcher) waitReady(ctx context.Context, c *Container) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	connString := c.handle.ConnString()
	var lastErr error
	for {
		info, err := l.api.ContainerInspect(ctx, c.id)
		if err != nil {
			return fmt.Errorf("inspecting container: %w", err)
		}
		if info.ContainerJSONBase != nil && info.State != nil && !info.State.Running {
			return fmt.Errorf("%w (exit code %d): %s", ErrExited, info.State.ExitCode, l.logTail(ctx, c.id))
		}

		if lastErr = l.ready(ctx, connString); lastErr == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres not ready after %s: %w", l.opts.StartupTimeout, lastErr)
		case <-ticker.C:
		}
	}
}

// logTail returns the last lines the container wrote, for error messages.
func (l *Launcher) logTail(ctx context.Context, id string) string {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	r, err := l.api.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true, Tail: "20"})
	if err != nil {
		return "no logs: " + err.Error()
	}
	defer r.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, r); err != nil {
		return "no logs: " + err.Error()
	}
	return strings.TrimSpace(stdout.String() + stderr.String())
}

// pingReady opens a connection and pings the server.
func pingReady(ctx context.Context, connString string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return err
	}
	defer conn.Close(context.WithoutCancel(ctx))
	return conn.Ping(ctx)
}

// Container is a running PostgreSQL container.
type Container struct {
	api    dockerAPI
	id     string
	name   string
	handle Handle
	logger *slog.Logger

	once    sync.Once
	stopErr error
}

// ID returns the Docker container ID.
func (c *Container) ID() string { return c.id }

// Handle returns the connection coordinates of the server.
func (c *Container) Handle() Handle { return c.handle }

// Stop force-removes the container and its anonymous volumes. Calling it
// more than once is safe; a container that no longer exists is not an
// error.
func (c *Container) Stop(ctx context.Context) error {
	c.once.Do(func() {
		err := c.api.ContainerRemove(ctx, c.id, container.RemoveOptions{Force: true, RemoveVolumes: true})
		if err != nil && !cerrdefs.IsNotFound(err) {
			c.stopErr = fmt.Errorf("removing container %s: %w", shortID(c.id), err)
			return
		}
		c.logger.Debug("removed container", "id", shortID(c.id), "name", c.name)
	})
	return c.stopErr
}

// Handle holds the coordinates of a database server.
type Handle struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

// ConnString returns a postgres URL for the handle.
func (h Handle) ConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(h.Username, h.Password),
		Host:     net.JoinHostPort(h.Host, strconv.Itoa(h.Port)),
		Path:     "/" + h.Database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// daemonAddress reports whether the daemon runs on this machine and the
// host at which its published ports are reachable.
func daemonAddress(daemonHost string) (local bool, host string) {
	u, err := url.Parse(daemonHost)
	if err != nil || u.Scheme != "tcp" && u.Scheme != "http" && u.Scheme != "https" {
		return true, "127.0.0.1"
	}
	h := u.Hostname()
	if h == "" || h == "localhost" {
		return true, "127.0.0.1"
	}
	if ip := net.ParseIP(h); ip != nil && ip.IsLoopback() {
		return true, h
	}
	return false, h
}

// parsePlatform parses "os/arch[/variant]".
func parsePlatform(s string) (*ocispec.Platform, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "/")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid platform %q, want os/arch[/variant]", s)
	}
	p := &ocispec.Platform{OS: parts[0], Architecture: parts[1]}
	if len(parts) == 3 {
		p.Variant = parts[2]
	}
	return p, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
