package runtime

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/edcatley/Wan2.2-Serverless-Template/internal/shared/logging"
)

// CommandRunner lets us stub the docker CLI in tests.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	err := cmd.Run()
	return out.Bytes(), errb.Bytes(), err
}

// DockerRuntime drives worker containers through the docker CLI.
type DockerRuntime struct {
	runner       CommandRunner
	logger       logging.Logger
	gpuAvailable bool
}

func NewDockerRuntime(logger logging.Logger) *DockerRuntime {
	return newDockerRuntime(execRunner{}, logger)
}

func newDockerRuntime(runner CommandRunner, logger logging.Logger) *DockerRuntime {
	rt := &DockerRuntime{runner: runner, logger: logger}
	rt.gpuAvailable = rt.probeGPU()
	return rt
}

// probeGPU checks for an nvidia runtime. Probe failure only disables the
// capability; it must never abort job processing.
func (rt *DockerRuntime) probeGPU() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stdout, _, err := rt.runner.Run(ctx, "docker", "info", "--format", "{{json .Runtimes}}")
	if err != nil {
		rt.logger.Warn("GPU probe failed, launching workers without GPU", "error", err)
		return false
	}

	available := strings.Contains(string(stdout), "nvidia")
	rt.logger.Info("Docker runtime probed", "gpu_available", available)
	return available
}

func (rt *DockerRuntime) Launch(ctx context.Context, spec ContainerSpec) (Handle, error) {
	args := []string{"run", "-d"}

	envKeys := make([]string, 0, len(spec.Env))
	for key := range spec.Env {
		envKeys = append(envKeys, key)
	}
	sort.Strings(envKeys)
	for _, key := range envKeys {
		args = append(args, "-e", key+"="+spec.Env[key])
	}

	if spec.MemoryLimit != "" {
		args = append(args, "--memory", spec.MemoryLimit)
	}

	hostPaths := make([]string, 0, len(spec.VolumeBinds))
	for hostPath := range spec.VolumeBinds {
		hostPaths = append(hostPaths, hostPath)
	}
	sort.Strings(hostPaths)
	for _, hostPath := range hostPaths {
		args = append(args, "-v", hostPath+":"+spec.VolumeBinds[hostPath])
	}

	if spec.GPU && rt.gpuAvailable {
		args = append(args, "--gpus", "all")
	}

	args = append(args, spec.Image)

	stdout, stderr, err := rt.runner.Run(ctx, "docker", args...)
	if err != nil {
		return nil, fmt.Errorf("docker run failed: %w: %s", err, strings.TrimSpace(string(stderr)))
	}

	containerID := strings.TrimSpace(string(stdout))
	if containerID == "" {
		return nil, fmt.Errorf("docker run returned no container id")
	}

	rt.logger.Info("Container started", "container_id", shortID(containerID), "image", spec.Image)
	return &dockerHandle{id: containerID, runner: rt.runner}, nil
}

type dockerHandle struct {
	id     string
	runner CommandRunner
}

func (h *dockerHandle) ID() string {
	return shortID(h.id)
}

func (h *dockerHandle) Running(ctx context.Context) (bool, error) {
	stdout, stderr, err := h.runner.Run(ctx, "docker", "inspect", "-f", "{{.State.Running}}", h.id)
	if err != nil {
		return false, fmt.Errorf("docker inspect failed: %w: %s", err, strings.TrimSpace(string(stderr)))
	}
	return strings.TrimSpace(string(stdout)) == "true", nil
}

func (h *dockerHandle) ExitCode(ctx context.Context) (int, error) {
	stdout, stderr, err := h.runner.Run(ctx, "docker", "inspect", "-f", "{{.State.ExitCode}}", h.id)
	if err != nil {
		return -1, fmt.Errorf("docker inspect failed: %w: %s", err, strings.TrimSpace(string(stderr)))
	}

	code, err := strconv.Atoi(strings.TrimSpace(string(stdout)))
	if err != nil {
		return -1, fmt.Errorf("unexpected exit code output %q", strings.TrimSpace(string(stdout)))
	}
	return code, nil
}

func (h *dockerHandle) Logs(ctx context.Context) (string, error) {
	stdout, stderr, err := h.runner.Run(ctx, "docker", "logs", "--tail", "100", h.id)
	if err != nil {
		return "", fmt.Errorf("docker logs failed: %w", err)
	}
	// docker logs writes container stderr to our stderr stream.
	return string(stdout) + string(stderr), nil
}

func (h *dockerHandle) Stop(ctx context.Context, grace time.Duration) error {
	seconds := int(grace.Round(time.Second) / time.Second)
	_, stderr, err := h.runner.Run(ctx, "docker", "stop", "-t", strconv.Itoa(seconds), h.id)
	if err != nil {
		return fmt.Errorf("docker stop failed: %w: %s", err, strings.TrimSpace(string(stderr)))
	}
	return nil
}

func (h *dockerHandle) Remove(ctx context.Context) error {
	_, stderr, err := h.runner.Run(ctx, "docker", "rm", "-f", h.id)
	if err != nil {
		return fmt.Errorf("docker rm failed: %w: %s", err, strings.TrimSpace(string(stderr)))
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
