// Package registry scans a tree of device directories and resolves build
// targets by id, alias or path.
package registry

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/aosc-dev/mkrawimg/devicespec"
	"github.com/aosc-dev/mkrawimg/internal/logger"
)

const (
	specFileName = "device.toml"

	// Device directories sit at most this deep below the registry root
	// (e.g. devices/arm64/raspberrypi/rpi-5b/device.toml).
	maxScanDepth = 4
)

// Registry is a loaded set of device specs.
type Registry struct {
	rootDir string
	devices []*devicespec.Device

	byID    map[string]*devicespec.Device
	byAlias map[string]*devicespec.Device
}

// Scan walks the registry tree and loads every device.toml found.
// Duplicate ids or aliases across the tree are an error.
func Scan(rootDir string) (*Registry, error) {
	exists, err := os.Stat(rootDir)
	if err != nil || !exists.IsDir() {
		return nil, fmt.Errorf("registry directory (%s) does not exist", rootDir)
	}

	registry := &Registry{
		rootDir: rootDir,
		byID:    make(map[string]*devicespec.Device),
		byAlias: make(map[string]*devicespec.Device),
	}

	specPaths := []string(nil)
	err = filepath.WalkDir(rootDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(rootDir, path)
		if relErr != nil {
			return relErr
		}
		depth := len(strings.Split(rel, string(filepath.Separator)))
		if entry.IsDir() {
			if depth > maxScanDepth {
				return fs.SkipDir
			}
			return nil
		}
		if entry.Name() == specFileName {
			specPaths = append(specPaths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan registry (%s):\n%w", rootDir, err)
	}

	sort.Strings(specPaths)
	for _, specPath := range specPaths {
		device, err := devicespec.LoadFromFile(specPath)
		if err != nil {
			return nil, err
		}
		err = registry.add(device)
		if err != nil {
			return nil, err
		}
	}

	logger.Log.Debugf("Loaded %d devices from (%s)", len(registry.devices), rootDir)
	return registry, nil
}

func (r *Registry) add(device *devicespec.Device) error {
	if existing, found := r.byID[device.ID]; found {
		return fmt.Errorf("duplicate device id (%s) in (%s) and (%s)",
			device.ID, existing.FilePath, device.FilePath)
	}
	r.byID[device.ID] = device

	for _, alias := range device.Aliases {
		if existing, found := r.byAlias[alias]; found {
			return fmt.Errorf("duplicate device alias (%s) in (%s) and (%s)",
				alias, existing.FilePath, device.FilePath)
		}
		if existing, found := r.byID[alias]; found && existing != device {
			return fmt.Errorf("device alias (%s) collides with the id of (%s)",
				alias, existing.FilePath)
		}
		r.byAlias[alias] = device
	}

	r.devices = append(r.devices, device)
	return nil
}

// Devices returns all loaded devices in path order.
func (r *Registry) Devices() []*devicespec.Device {
	return r.devices
}

// Lookup resolves a device by id or alias.
func (r *Registry) Lookup(name string) (*devicespec.Device, error) {
	if device, found := r.byID[name]; found {
		return device, nil
	}
	if device, found := r.byAlias[name]; found {
		return device, nil
	}
	return nil, fmt.Errorf("device (%s) not found in the registry", name)
}

// Resolve accepts either a device id/alias or a path to a device.toml (or
// its directory) and returns the loaded spec.
func (r *Registry) Resolve(target string) (*devicespec.Device, error) {
	info, err := os.Stat(target)
	if err == nil {
		specPath := target
		if info.IsDir() {
			specPath = filepath.Join(target, specFileName)
		}
		return devicespec.LoadFromFile(specPath)
	}
	return r.Lookup(target)
}

// CheckAll validates every loaded device, collecting all failures rather
// than stopping at the first.
func (r *Registry) CheckAll() []error {
	errs := []error(nil)
	for _, device := range r.devices {
		err := device.Check()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", device.FilePath, err))
		}
	}
	return errs
}

// ListPretty writes a human-readable listing of the registry.
func (r *Registry) ListPretty() string {
	bold := color.New(color.Bold)
	dim := color.New(color.Faint)

	builder := strings.Builder{}
	byArch := make(map[devicespec.Arch][]*devicespec.Device)
	for _, device := range r.devices {
		byArch[device.Arch] = append(byArch[device.Arch], device)
	}

	arches := make([]string, 0, len(byArch))
	for arch := range byArch {
		arches = append(arches, string(arch))
	}
	sort.Strings(arches)

	for _, arch := range arches {
		builder.WriteString(bold.Sprintf("%s:\n", arch))
		for _, device := range byArch[devicespec.Arch(arch)] {
			builder.WriteString(fmt.Sprintf("  %s  %s", bold.Sprint(device.ID), device.Name))
			if len(device.Aliases) > 0 {
				builder.WriteString(dim.Sprintf("  (aliases: %s)", strings.Join(device.Aliases, ", ")))
			}
			builder.WriteString("\n")
		}
	}
	return builder.String()
}

// ListSimple writes one device id per line, friendly for scripts.
func (r *Registry) ListSimple() string {
	builder := strings.Builder{}
	for _, device := range r.devices {
		builder.WriteString(device.ID)
		builder.WriteString("\n")
	}
	return builder.String()
}
