package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	lvmkit "github.com/bgrewell/lvm-kit"
	"github.com/bgrewell/lvm-kit/pkg/logging"
)

var (
	verbose   bool
	trace     bool
	pvFlags   []string
	useMmap   bool
	offsetStr string
	lengthStr string
)

func openVolumeGroup(primary string) (*lvmkit.VolumeGroup, error) {
	level := logging.VerbosityInfo
	if trace {
		level = logging.VerbosityTrace
	} else if verbose {
		level = logging.VerbosityDebug
	}
	log := logging.NewSimpleLogger(os.Stderr, level, true)

	pvPaths := pvFlags
	if len(pvPaths) == 0 {
		pvPaths = []string{primary}
	}

	return lvmkit.Open(primary, pvPaths,
		lvmkit.WithLogger(log),
		lvmkit.WithMemoryMappedVolumes(useMmap),
	)
}

func runList(cmd *cobra.Command, args []string) error {
	vg, err := openVolumeGroup(args[0])
	if err != nil {
		return fmt.Errorf("failed to open volume group: %w", err)
	}
	defer vg.Close()

	fmt.Printf("volume group: %s\n", vg.Name())

	pvNames, err := vg.PhysicalVolumeNames()
	if err != nil {
		return fmt.Errorf("failed to list physical volumes: %w", err)
	}
	fmt.Printf("physical volumes: %s\n", strings.Join(pvNames, ", "))

	for _, name := range vg.LogicalVolumeNames() {
		lv, err := vg.OpenLogicalVolume(name)
		if err != nil {
			return fmt.Errorf("failed to open logical volume %q: %w", name, err)
		}
		fmt.Printf("  %s\t%d bytes\n", name, lv.Size())
	}

	return nil
}

func runCat(cmd *cobra.Command, args []string) error {
	primary := args[0]
	lvName := args[1]

	vg, err := openVolumeGroup(primary)
	if err != nil {
		return fmt.Errorf("failed to open volume group: %w", err)
	}
	defer vg.Close()

	lv, err := vg.OpenLogicalVolume(lvName)
	if err != nil {
		return fmt.Errorf("failed to open logical volume %q: %w", lvName, err)
	}

	offset, err := parseByteCount(offsetStr, 0)
	if err != nil {
		return fmt.Errorf("invalid --offset: %w", err)
	}
	length, err := parseByteCount(lengthStr, lv.Size()-offset)
	if err != nil {
		return fmt.Errorf("invalid --length: %w", err)
	}

	if _, err := lv.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}

	_, err = io.CopyN(os.Stdout, lv, length)
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read logical volume: %w", err)
	}
	return nil
}

func parseByteCount(s string, fallback int64) (int64, error) {
	if s == "" {
		return fallback, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "lvmcat",
		Short: "Read-only inspector for LVM2 volume groups",
		Long:  "lvmcat opens an LVM2 physical volume's label and metadata, lists its logical volumes, and streams their contents.",
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&trace, "trace", "", false, "enable trace logging")
	rootCmd.PersistentFlags().StringArrayVarP(&pvFlags, "pv", "p", nil, "additional physical volume backing file, in volume group order (repeatable); defaults to just the primary")
	rootCmd.PersistentFlags().BoolVarP(&useMmap, "mmap", "", false, "memory-map physical volumes instead of using file reads")

	listCmd := &cobra.Command{
		Use:   "list <primary-pv-file>",
		Short: "List the volume group's physical and logical volumes",
		Args:  cobra.ExactArgs(1),
		RunE:  runList,
	}

	catCmd := &cobra.Command{
		Use:   "cat <primary-pv-file> <logical-volume>",
		Short: "Stream a logical volume's contents to stdout",
		Args:  cobra.ExactArgs(2),
		RunE:  runCat,
	}
	catCmd.Flags().StringVarP(&offsetStr, "offset", "", "", "byte offset to start reading from (default 0)")
	catCmd.Flags().StringVarP(&lengthStr, "length", "", "", "number of bytes to read (default: to end of volume)")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(catCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
