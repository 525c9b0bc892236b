// Package devicetransport is the external device-transport collaborator
// the core pipeline expects (§6): list devices, test reachability by
// address, enumerate a package's on-device archive paths, and pull a
// remote path to a local path. The analysis core never shells out itself
// — this is the thin exec.CommandContext wrapper that hands it its input
// archives when the source is a connected device rather than a local
// file.
package devicetransport

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/unity-buildscan/internal/retry"
)

// Device is one entry from `adb devices -l`.
type Device struct {
	Serial string
	State  string // device, offline, unauthorized
}

// Transport wraps the adb binary the way the teacher's adb.Client wraps it
// for install/shell/pull, narrowed to the four operations this pipeline's
// device-sourced runs need.
type Transport struct {
	log        *logrus.Logger
	timeout    time.Duration
	retryCfg   *retry.Config
}

func New(log *logrus.Logger, timeout time.Duration) *Transport {
	return &Transport{log: log, timeout: timeout, retryCfg: retry.DefaultConfig()}
}

// WithRetryConfig overrides the retry policy Pull uses; passing nil resets
// to retry.DefaultConfig().
func (t *Transport) WithRetryConfig(cfg *retry.Config) *Transport {
	if cfg == nil {
		cfg = retry.DefaultConfig()
	}
	t.retryCfg = cfg
	return t
}

func (t *Transport) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "adb", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("adb %s: %w: %s", strings.Join(args, " "), err, string(output))
	}
	return string(output), nil
}

// ListDevices parses `adb devices -l` into one Device per connected
// serial.
func (t *Transport) ListDevices(ctx context.Context) ([]Device, error) {
	output, err := t.run(ctx, "devices", "-l")
	if err != nil {
		return nil, err
	}

	var devices []Device
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		devices = append(devices, Device{Serial: fields[0], State: fields[1]})
	}
	return devices, nil
}

// Reachable reports whether address answers a trivial shell round-trip.
func (t *Transport) Reachable(ctx context.Context, address string) bool {
	_, err := t.run(ctx, "-s", address, "shell", "echo", "ok")
	if err != nil {
		t.log.WithFields(logrus.Fields{"address": address, "error": err}).Debug("devicetransport: device not reachable")
		return false
	}
	return true
}

// ListPackageArchives enumerates the on-device archive paths (an APK's
// split base + config APKs) for an installed package via `pm path`.
func (t *Transport) ListPackageArchives(ctx context.Context, address, packageName string) ([]string, error) {
	output, err := t.run(ctx, "-s", address, "shell", "pm", "path", packageName)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if p, ok := strings.CutPrefix(line, "package:"); ok {
			paths = append(paths, strings.TrimSpace(p))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("devicetransport: no archive paths for package %q", packageName)
	}
	return paths, nil
}

// Pull copies remotePath from address to localPath, retrying per the
// transport's retry policy — a single dropped USB/network frame shouldn't
// fail an entire analysis run.
func (t *Transport) Pull(ctx context.Context, address, remotePath, localPath string) error {
	return retry.Do(ctx, t.retryCfg, func(ctx context.Context) error {
		_, err := t.run(ctx, "-s", address, "pull", remotePath, localPath)
		if err != nil {
			return retry.NewRetryableError(err)
		}
		return nil
	})
}
