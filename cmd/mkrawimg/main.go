// Command mkrawimg builds flashable raw system images for devices
// described in a device registry.
package main

import (
	"fmt"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	"golang.org/x/sys/unix"

	"github.com/aosc-dev/mkrawimg/devicespec"
	"github.com/aosc-dev/mkrawimg/internal/exekong"
	"github.com/aosc-dev/mkrawimg/internal/logger"
	"github.com/aosc-dev/mkrawimg/internal/sliceutils"
	"github.com/aosc-dev/mkrawimg/internal/termstate"
	"github.com/aosc-dev/mkrawimg/pkg/rawimglib"
	"github.com/aosc-dev/mkrawimg/registry"
)

// distroRegistryDir is where the distribution installs the device registry.
const distroRegistryDir = "/usr/share/aosc-mkrawimg/devices"

type buildFlags struct {
	Fstype      string   `name:"fstype" short:"f" placeholder:"(ext4|btrfs|xfs)" enum:"ext4,btrfs,xfs," default:"" help:"Override the filesystem type of the root filesystem."`
	Compression string   `name:"compression" short:"c" placeholder:"(xz|zstd|gzip|none)" enum:"xz,zstd,gzip,none" default:"xz" help:"Image compression format."`
	Variants    []string `name:"variants" short:"V" enum:"base,desktop,server" default:"base,desktop,server" help:"Variants to generate (all if not specified)."`
	Revision    uint32   `name:"revision" short:"r" help:"Revision of the image, added to the output filename."`
	Packages    []string `name:"packages" short:"p" help:"Additional packages to install into the target system."`
	Topics      []string `name:"topics" short:"t" help:"Topics to enable in the target system."`
}

type buildCmd struct {
	buildFlags
	Device string `arg:"" help:"ID, alias, or path of the target device."`
}

type buildAllCmd struct {
	buildFlags
}

type checkCmd struct {
	Device string `arg:"" optional:"" help:"ID, alias, or path of a single device to check."`
}

type listCmd struct {
	Format string `name:"format" short:"f" enum:"pretty,simple" default:"pretty" help:"List format."`
}

type cmdline struct {
	Registry string `name:"registry" short:"R" help:"Override the path to the device registry."`
	WorkDir  string `name:"workdir" short:"W" default:"./work" help:"Working directory."`
	OutDir   string `name:"outdir" short:"O" default:"./out" help:"Output directory."`
	Mirror   string `name:"mirror" short:"m" default:"${mirror}" help:"The mirror to download packages from."`
	User     string `name:"user" short:"U" default:"aosc" help:"Username of the built-in user."`
	Password string `name:"password" short:"P" default:"anthon" help:"Password of the built-in user."`
	exekong.LogFlags

	Build    buildCmd    `cmd:"" help:"Build images for a device."`
	BuildAll buildAllCmd `cmd:"" name:"build-all" help:"Build images for all devices."`
	Check    checkCmd    `cmd:"" help:"Check the validity of the device registry."`
	List     listCmd     `cmd:"" help:"List all available devices."`
}

func main() {
	cli := &cmdline{}

	vars := kong.Vars{
		"mirror": rawimglib.DefaultMirror,
	}
	maps.Copy(vars, exekong.KongVars)

	parsed := kong.Parse(cli,
		vars,
		kong.HelpOptions{
			Compact:   true,
			FlagsLast: true,
		},
		kong.UsageOnError())

	logFlags := cli.LogFlags.AsLoggerFlags()
	logger.InitBestEffort(&logFlags)

	// Make sure an interrupted build does not leave the terminal with a
	// shrunken scroll region.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, unix.SIGTERM)
	go func() {
		<-interrupts
		termstate.Restore()
		fmt.Fprintln(os.Stderr, "\nReceived interrupt, exiting.")
		os.Exit(1)
	}()

	err := run(cli, parsed.Command())
	if err != nil {
		termstate.Restore()
		logger.Log.Errorf("Error encountered!\n%v", err)
		logger.Log.Errorf("Exiting now.")
		os.Exit(1)
	}
}

func run(cli *cmdline, command string) error {
	logger.Log.Infof("Welcome to mkrawimg!")

	registryDir, err := resolveRegistryDir(cli.Registry)
	if err != nil {
		return err
	}

	switch command {
	case "build <device>":
		return runBuild(cli, registryDir, cli.Build.buildFlags, cli.Build.Device)
	case "build-all":
		return runBuild(cli, registryDir, cli.BuildAll.buildFlags, "")
	case "check", "check <device>":
		return runCheck(registryDir, cli.Check.Device)
	case "list":
		return runList(registryDir, cli.List.Format)
	default:
		return fmt.Errorf("unknown command (%s)", command)
	}
}

func resolveRegistryDir(override string) (string, error) {
	dir := override
	if dir == "" {
		if _, err := os.Stat("./devices"); err == nil {
			dir = "./devices"
		} else {
			dir = distroRegistryDir
		}
	}

	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("registry '%s' does not exist", dir)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("registry '%s' is not a directory", dir)
	}
	return filepath.Abs(dir)
}

func runCheck(registryDir string, device string) error {
	logger.Log.Infof("Checking validity of the registry ...")
	reg, err := registry.Scan(registryDir)
	if err != nil {
		return err
	}

	if device != "" {
		_, err := reg.Resolve(device)
		return err
	}

	errs := reg.CheckAll()
	for _, err := range errs {
		logger.Log.Errorf("%v", err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d device(s) failed validation", len(errs))
	}
	logger.Log.Infof("All devices are valid.")
	return nil
}

func runList(registryDir string, format string) error {
	reg, err := registry.Scan(registryDir)
	if err != nil {
		return err
	}

	switch format {
	case "simple":
		fmt.Print(reg.ListSimple())
	default:
		fmt.Print(reg.ListPretty())
	}
	return nil
}

func runBuild(cli *cmdline, registryDir string, flags buildFlags, device string) error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("building images requires root privileges")
	}

	reg, err := registry.Scan(registryDir)
	if err != nil {
		return err
	}

	var devices []*devicespec.Device
	if device != "" {
		target, err := reg.Resolve(device)
		if err != nil {
			return err
		}
		logger.Log.Infof("Going to build images for device '%s'.", target.ID)
		devices = []*devicespec.Device{target}
	} else {
		logger.Log.Warnf("Attempting to build images for all devices. " +
			"Make sure this is what you want to do.")
		devices = reg.Devices()
		if len(devices) == 0 {
			return fmt.Errorf("the registry contains no devices")
		}
	}

	variants := make([]devicespec.Variant, 0, len(flags.Variants))
	for _, name := range flags.Variants {
		variant := devicespec.Variant(name)
		if !sliceutils.ContainsValue(variants, variant) {
			variants = append(variants, variant)
		}
	}
	compression := rawimglib.Compression(flags.Compression)
	overrideFstype := devicespec.FilesystemType(flags.Fstype)

	var topics []rawimglib.Topic
	if len(flags.Topics) > 0 {
		all, err := rawimglib.FetchTopics()
		if err != nil {
			return err
		}
		topics, err = rawimglib.FilterTopics(flags.Topics, all)
		if err != nil {
			return err
		}
	}

	logger.Log.Infof("Preparing build ...")
	for _, dir := range []string{cli.WorkDir, cli.OutDir} {
		err = os.MkdirAll(dir, 0o755)
		if err != nil {
			return fmt.Errorf("failed to create directory (%s):\n%w", dir, err)
		}
	}

	// Assemble the job queue before any build starts, so argument errors
	// surface before hours of work.
	date := time.Now().UTC()
	queue := []*rawimglib.ImageContext{}
	for _, device := range devices {
		err = rawimglib.CheckBinfmt(device.Arch)
		if err != nil {
			return err
		}
		for _, variant := range variants {
			queue = append(queue, &rawimglib.ImageContext{
				Device:               device,
				Variant:              variant,
				WorkDir:              cli.WorkDir,
				OutDir:               cli.OutDir,
				Mirror:               cli.Mirror,
				User:                 cli.User,
				Password:             cli.Password,
				Filename:             rawimglib.ImageFilename(device, variant, date, flags.Revision, compression),
				BaseDist:             rawimglib.BootstrapPath(cli.WorkDir, variant, device.Arch),
				OverrideRootfsFstype: overrideFstype,
				ExtraPackages:        flags.Packages,
				Compress:             compression,
				Topics:               topics,
			})
		}
	}

	logger.Log.Infof("Job queue contains %d images for %d devices.", len(queue), len(devices))

	logger.Log.Infof("Bootstrapping releases ...")
	for _, job := range queue {
		if rawimglib.BootstrapIsCached(job.BaseDist) {
			logger.Log.Debugf("Reusing the bootstrapped distribution at %s", job.BaseDist)
			continue
		}
		err = rawimglib.BootstrapDistribution(job.Variant, job.BaseDist, job.Device.Arch, cli.Mirror)
		if err != nil {
			return err
		}
	}

	logger.Log.Infof("Begin to generate images ...")
	start := time.Now()
	for i, job := range queue {
		logger.Log.Infof("%d images pending.", len(queue)-i)
		err = job.Execute(i+1, len(queue))
		if err != nil {
			return fmt.Errorf("failed to build image (%s):\n%w", job.Filename, err)
		}
	}

	logger.Log.Infof("Done! %d image(s) in %.3f seconds.", len(queue), time.Since(start).Seconds())
	logger.Log.Infof("Output directory: %s", cli.OutDir)
	logger.Log.Infof("Program finished successfully. Exiting.")
	return nil
}
