package runtime

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// mockLogger is a no-op logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(msg string, args ...any) {}
func (m *mockLogger) Info(msg string, args ...any)  {}
func (m *mockLogger) Warn(msg string, args ...any)  {}
func (m *mockLogger) Error(msg string, args ...any) {}
func (m *mockLogger) Fatal(msg string, args ...any) {}

// scriptedRunner returns canned outputs per docker verb and records every call.
type scriptedRunner struct {
	calls   [][]string
	outputs map[string]string // first arg after "docker" -> stdout
	errs    map[string]error
}

func (r *scriptedRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	verb := args[0]
	if err, isSet := r.errs[verb]; isSet && err != nil {
		return nil, []byte("boom"), err
	}
	return []byte(r.outputs[verb]), nil, nil
}

func TestLaunchBuildsDockerArgs(t *testing.T) {
	runner := &scriptedRunner{
		outputs: map[string]string{
			"info": `{"nvidia":{"path":"nvidia-container-runtime"}}`,
			"run":  "abcdef0123456789\n",
		},
	}
	rt := newDockerRuntime(runner, &mockLogger{})

	handle, err := rt.Launch(context.Background(), ContainerSpec{
		Image: "runpod-comfyui:latest",
		Env: map[string]string{
			"JOB_ID":    "j1",
			"WORKER_ID": "worker-j1",
		},
		MemoryLimit: "8g",
		VolumeBinds: map[string]string{"/models": "/network-volume"},
		GPU:         true,
	})
	require.NoError(t, err)
	require.Equal(t, "abcdef012345", handle.ID())

	runCall := runner.calls[len(runner.calls)-1]
	joined := strings.Join(runCall, " ")
	require.Contains(t, joined, "run -d")
	require.Contains(t, joined, "-e JOB_ID=j1")
	require.Contains(t, joined, "-e WORKER_ID=worker-j1")
	require.Contains(t, joined, "--memory 8g")
	require.Contains(t, joined, "-v /models:/network-volume")
	require.Contains(t, joined, "--gpus all")
	require.True(t, strings.HasSuffix(joined, "runpod-comfyui:latest"))
}

func TestLaunchOmitsGPUWhenUnavailable(t *testing.T) {
	runner := &scriptedRunner{
		outputs: map[string]string{
			"info": `{"runc":{"path":"runc"}}`,
			"run":  "abc\n",
		},
	}
	rt := newDockerRuntime(runner, &mockLogger{})

	_, err := rt.Launch(context.Background(), ContainerSpec{Image: "img", GPU: true})
	require.NoError(t, err)

	joined := strings.Join(runner.calls[len(runner.calls)-1], " ")
	require.NotContains(t, joined, "--gpus")
}

func TestGPUProbeFailureDisablesCapabilityOnly(t *testing.T) {
	runner := &scriptedRunner{
		outputs: map[string]string{"run": "abc\n"},
		errs:    map[string]error{"info": errors.New("docker daemon unreachable")},
	}
	rt := newDockerRuntime(runner, &mockLogger{})

	// Launch must still work with GPU silently disabled.
	_, err := rt.Launch(context.Background(), ContainerSpec{Image: "img", GPU: true})
	require.NoError(t, err)
	require.NotContains(t, strings.Join(runner.calls[len(runner.calls)-1], " "), "--gpus")
}

func TestLaunchFailureSurfacesStderr(t *testing.T) {
	runner := &scriptedRunner{
		outputs: map[string]string{"info": "{}"},
		errs:    map[string]error{"run": errors.New("exit status 125")},
	}
	rt := newDockerRuntime(runner, &mockLogger{})

	_, err := rt.Launch(context.Background(), ContainerSpec{Image: "missing:image"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestHandleRunningAndExitCode(t *testing.T) {
	runner := &scriptedRunner{
		outputs: map[string]string{
			"info":    "{}",
			"run":     "abc\n",
			"inspect": "true\n",
		},
	}
	rt := newDockerRuntime(runner, &mockLogger{})

	handle, err := rt.Launch(context.Background(), ContainerSpec{Image: "img"})
	require.NoError(t, err)

	running, err := handle.Running(context.Background())
	require.NoError(t, err)
	require.True(t, running)

	runner.outputs["inspect"] = "137\n"
	code, err := handle.ExitCode(context.Background())
	require.NoError(t, err)
	require.Equal(t, 137, code)
}

func TestHandleStopUsesGracePeriod(t *testing.T) {
	runner := &scriptedRunner{
		outputs: map[string]string{
			"info": "{}",
			"run":  "abc\n",
		},
	}
	rt := newDockerRuntime(runner, &mockLogger{})

	handle, err := rt.Launch(context.Background(), ContainerSpec{Image: "img"})
	require.NoError(t, err)
	require.NoError(t, handle.Stop(context.Background(), 10*time.Second))

	stopCall := strings.Join(runner.calls[len(runner.calls)-1], " ")
	require.Contains(t, stopCall, "stop -t 10")
}
