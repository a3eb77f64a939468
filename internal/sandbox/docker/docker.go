// Package docker implements sandbox.Driver against a local Docker daemon,
// extending the control plane's original container client with the
// volume and file-transfer operations a workspace sandbox needs.
package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	dockerclient "github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/kandev/sandboxctl/internal/common/config"
	"github.com/kandev/sandboxctl/internal/common/logger"
	"github.com/kandev/sandboxctl/internal/sandbox"
)

// Driver is the sandbox.Driver backed by a local Docker daemon.
type Driver struct {
	cli    *dockerclient.Client
	logger *logger.Logger
	config config.DockerConfig
}

// New dials the Docker daemon described by cfg.
func New(cfg config.DockerConfig, log *logger.Logger) (*Driver, error) {
	opts := []dockerclient.Opt{dockerclient.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, dockerclient.WithHost(cfg.Host))
	}
	if cfg.APIVersion != "" {
		opts = append(opts, dockerclient.WithVersion(cfg.APIVersion))
	}

	cli, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	log.Info("docker driver created", zap.String("host", cfg.Host), zap.String("api_version", cfg.APIVersion))

	return &Driver{cli: cli, logger: log, config: cfg}, nil
}

// Close releases the underlying Docker client connection.
func (d *Driver) Close() error { return d.cli.Close() }

func (d *Driver) EnsureVolume(ctx context.Context, name string) error {
	_, err := d.cli.VolumeInspect(ctx, name)
	if err == nil {
		return nil
	}

	d.logger.Info("creating workspace volume", zap.String("volume", name))
	_, err = d.cli.VolumeCreate(ctx, volume.CreateOptions{
		Name:   name,
		Labels: map[string]string{d.config.VolumeLabel: "true"},
	})
	if err != nil {
		return fmt.Errorf("failed to create volume %s: %w", name, err)
	}
	return nil
}

func (d *Driver) DeleteVolume(ctx context.Context, name string) error {
	d.logger.Info("deleting workspace volume", zap.String("volume", name))
	if err := d.cli.VolumeRemove(ctx, name, true); err != nil {
		return fmt.Errorf("failed to remove volume %s: %w", name, err)
	}
	return nil
}

func (d *Driver) CreateContainer(ctx context.Context, spec sandbox.ContainerSpec) (string, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	mounts := []mount.Mount{{
		Type:   mount.TypeVolume,
		Source: spec.VolumeName,
		Target: spec.VolumeTarget,
	}}

	exposed, bindings := buildPortConfig(spec.ExposedPorts)

	containerCfg := &container.Config{
		Image:        spec.Image,
		Env:          env,
		WorkingDir:   spec.VolumeTarget,
		Labels:       spec.Labels,
		ExposedPorts: exposed,
	}

	networkMode := container.NetworkMode(d.config.DefaultNetwork)
	if networkMode == "" {
		networkMode = "bridge"
	}

	hostCfg := &container.HostConfig{
		Mounts:       mounts,
		NetworkMode:  networkMode,
		PortBindings: bindings,
		Resources: container.Resources{
			Memory:   spec.ResourceLimits.MemoryMB * 1024 * 1024,
			CPUQuota: int64(spec.ResourceLimits.CPU * 100000),
			CPUPeriod: 100000,
		},
	}

	resp, err := d.cli.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to create sandbox container for image %s: %w", spec.Image, err)
	}

	d.logger.Info("sandbox container created", zap.String("container_id", resp.ID), zap.String("image", spec.Image))
	return resp.ID, nil
}

func buildPortConfig(ports []int) (container.PortSet, container.PortMap) {
	exposed := make(container.PortSet, len(ports))
	bindings := make(container.PortMap, len(ports))
	for _, p := range ports {
		portStr := fmt.Sprintf("%d/tcp", p)
		exposed[container.Port(portStr)] = struct{}{}
		bindings[container.Port(portStr)] = []container.PortBinding{{HostIP: "127.0.0.1", HostPort: ""}}
	}
	return exposed, bindings
}

func (d *Driver) Start(ctx context.Context, containerID string) error {
	if err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start sandbox container %s: %w", containerID, err)
	}
	return nil
}

func (d *Driver) StopAndRemove(ctx context.Context, containerID string) error {
	timeoutSeconds := 10
	if err := d.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeoutSeconds}); err != nil {
		d.logger.Warn("stop failed, attempting force remove", zap.String("container_id", containerID), zap.Error(err))
	}
	if err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: false}); err != nil {
		return fmt.Errorf("failed to remove sandbox container %s: %w", containerID, err)
	}
	return nil
}

func (d *Driver) Inspect(ctx context.Context, containerID string) (sandbox.Inspection, error) {
	info, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return sandbox.Inspection{}, fmt.Errorf("failed to inspect sandbox container %s: %w", containerID, err)
	}

	digest := info.Image
	if imgInfo, _, err := d.cli.ImageInspectWithRaw(ctx, info.Image); err == nil && len(imgInfo.RepoDigests) > 0 {
		digest = imgInfo.RepoDigests[0]
	}

	ip := ""
	if info.NetworkSettings != nil {
		for _, net := range info.NetworkSettings.Networks {
			if net.IPAddress != "" {
				ip = net.IPAddress
				break
			}
		}
	}

	hostPorts := make(map[int]string)
	if info.NetworkSettings != nil {
		for containerPort, bindings := range info.NetworkSettings.Ports {
			if len(bindings) == 0 {
				continue
			}
			portNum := 0
			fmt.Sscanf(string(containerPort), "%d", &portNum)
			hostPorts[portNum] = bindings[0].HostIP + ":" + bindings[0].HostPort
		}
	}

	return sandbox.Inspection{
		ImageName:       info.Config.Image,
		ImageDigest:     digest,
		IPAddress:       ip,
		HostPortForPort: hostPorts,
	}, nil
}

func (d *Driver) Exec(ctx context.Context, containerID string, argv []string, workdir string) (sandbox.ExecResult, error) {
	execCfg := container.ExecOptions{
		Cmd:          argv,
		WorkingDir:   workdir,
		AttachStdout: true,
		AttachStderr: true,
	}

	created, err := d.cli.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		return sandbox.ExecResult{}, fmt.Errorf("failed to create exec in container %s: %w", containerID, err)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return sandbox.ExecResult{}, fmt.Errorf("failed to attach exec in container %s: %w", containerID, err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := demux(attach.Reader, &stdout, &stderr); err != nil && err != io.EOF {
		return sandbox.ExecResult{}, fmt.Errorf("failed to read exec output from container %s: %w", containerID, err)
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return sandbox.ExecResult{}, fmt.Errorf("failed to inspect exec in container %s: %w", containerID, err)
	}

	return sandbox.ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// demux reads a Docker multiplexed attach stream into separate stdout and
// stderr buffers, following the eight-byte frame-header format used by the
// daemon when the exec is created without a TTY.
func demux(r io.Reader, stdout, stderr io.Writer) (int64, error) {
	var total int64
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return total, nil
			}
			return total, err
		}
		size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		dst := stdout
		if header[0] == 2 {
			dst = stderr
		}
		n, err := io.CopyN(dst, r, int64(size))
		total += n
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
	}
}

func (d *Driver) GetArchive(ctx context.Context, containerID, path string) (io.ReadCloser, error) {
	reader, _, err := d.cli.CopyFromContainer(ctx, containerID, path)
	if err != nil {
		return nil, fmt.Errorf("failed to copy archive from container %s at %s: %w", containerID, path, err)
	}
	return reader, nil
}

func (d *Driver) PutFile(ctx context.Context, containerID, filePath string, content []byte) error {
	// The entry carries the full path and is extracted at "/", so the
	// daemon creates any missing parent directories while unpacking.
	name := strings.TrimPrefix(path.Clean(filePath), "/")

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    int64(len(content)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to build tar header for %s: %w", filePath, err)
	}
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("failed to write tar content for %s: %w", filePath, err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finalize tar archive for %s: %w", filePath, err)
	}

	if err := d.cli.CopyToContainer(ctx, containerID, "/", &buf, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("failed to copy file into container %s at %s: %w", containerID, filePath, err)
	}
	return nil
}

// PullImageIfMissing pulls image if the daemon does not already have it
// cached. It is not part of sandbox.Driver, and WorkspaceService does not
// call it.
func (d *Driver) PullImageIfMissing(ctx context.Context, imageName string) error {
	if _, _, err := d.cli.ImageInspectWithRaw(ctx, imageName); err == nil {
		return nil
	}

	reader, err := d.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageName, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("error reading image pull output for %s: %w", imageName, err)
	}
	return nil
}

func (d *Driver) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping failed: %w", err)
	}
	return nil
}

