package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	raid1mirror "github.com/behrlich/go-raid1mirror"
	"github.com/behrlich/go-raid1mirror/backend"
	"github.com/behrlich/go-raid1mirror/internal/logging"
)

func main() {
	var (
		basesStr = flag.String("bases", "", "Comma-separated base device image paths (created if absent)")
		sizeStr  = flag.String("size", "64M", "Size of each base device (e.g., 64M, 1G)")
		blkStr   = flag.Int("block-size", 512, "Logical block size in bytes")
		delta    = flag.Bool("delta", false, "Enable faulty-replica delta tracking")
		rebuild  = flag.Int("rebuild", -1, "Rebuild the given base index from the other replicas")
		fragmap  = flag.Bool("fragmap", false, "Print the allocation fragmap of base 0 after the smoke I/O")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if *basesStr == "" {
		log.Fatal("at least one -bases path is required")
	}
	paths := strings.Split(*basesStr, ",")

	size, err := parseSize(*sizeStr)
	if err != nil {
		log.Fatalf("Invalid size '%s': %v", *sizeStr, err)
	}
	blockSize := uint64(*blkStr)

	// Set up logging
	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	// Open or create the base device images
	bases := make([]raid1mirror.BaseSpec, 0, len(paths))
	files := make([]*backend.FileDevice, 0, len(paths))
	for _, path := range paths {
		dev, err := backend.OpenFile(path, size, blockSize, raid1mirror.DefaultOptimalIOBoundary)
		if err != nil {
			logger.Error("failed to open base device", "path", path, "error", err)
			os.Exit(1)
		}
		files = append(files, dev)
		bases = append(bases, raid1mirror.BaseSpec{Device: dev})
	}

	logger.Info("assembling mirror",
		"bases", len(bases),
		"size", formatSize(size),
		"delta_tracking", *delta)

	params := raid1mirror.MirrorParams{
		Name:                 "raid1ctl",
		Bases:                bases,
		BlockSize:            blockSize,
		DeltaTrackingEnabled: *delta,
	}
	mirror, err := raid1mirror.Start(params, &raid1mirror.Options{Logger: logger})
	if err != nil {
		logger.Error("failed to start mirror", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	ch, err := mirror.GetIOChannel()
	if err != nil {
		logger.Error("failed to get I/O channel", "error", err)
		os.Exit(1)
	}

	// Smoke I/O: write a pattern through the mirror and read it back.
	pattern := make([]byte, 8*blockSize)
	for i := range pattern {
		pattern[i] = byte(i % 249)
	}
	if err := runWrite(ctx, ch, pattern, 0, 8); err != nil {
		logger.Error("smoke write failed", "error", err)
		os.Exit(1)
	}
	readBuf := make([]byte, len(pattern))
	if err := runRead(ctx, ch, readBuf, 0, 8); err != nil {
		logger.Error("smoke read failed", "error", err)
		os.Exit(1)
	}
	if string(readBuf) != string(pattern) {
		logger.Error("smoke read returned wrong data")
		os.Exit(1)
	}
	logger.Info("smoke I/O complete", "blocks", 8)

	if *rebuild >= 0 {
		if *rebuild >= mirror.NumBases() {
			logger.Error("rebuild index out of range", "base", *rebuild)
			os.Exit(1)
		}
		logger.Info("rebuilding base", "base", *rebuild)
		done := make(chan error, 1)
		if err := ch.Rebuild(ctx, *rebuild, false, func(err error) { done <- err }); err != nil {
			logger.Error("rebuild submit failed", "error", err)
			os.Exit(1)
		}
		if err := <-done; err != nil {
			logger.Error("rebuild failed", "error", err)
			os.Exit(1)
		}
		logger.Info("rebuild complete", "base", *rebuild)
	}

	if *fragmap {
		resp, err := raid1mirror.FragmapDevice(files[0], 0, 0, 0)
		if err != nil {
			logger.Error("fragmap failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Fragmap of %s: %d/%d clusters allocated (cluster size %s)\n",
			files[0].Path(), resp.NumAllocatedClusters, resp.NumClusters,
			formatSize(int64(resp.ClusterSize)))
	}

	info := mirror.Info()
	out, _ := json.MarshalIndent(info, "", "  ")
	fmt.Printf("%s\n", out)

	ch.Close()
	<-mirror.Stop()
}

func runWrite(ctx context.Context, ch *raid1mirror.IOChannel, buf []byte, off, num uint64) error {
	done := make(chan raid1mirror.Status, 1)
	err := ch.Write(ctx, [][]byte{buf}, off, num, raid1mirror.MemoryDomainOpts{}, func(s raid1mirror.Status) { done <- s })
	if err != nil {
		return err
	}
	if s := <-done; s != raid1mirror.StatusSuccess {
		return fmt.Errorf("write completed with status %v", s)
	}
	return nil
}

func runRead(ctx context.Context, ch *raid1mirror.IOChannel, buf []byte, off, num uint64) error {
	done := make(chan raid1mirror.Status, 1)
	err := ch.Read(ctx, [][]byte{buf}, off, num, raid1mirror.MemoryDomainOpts{}, func(s raid1mirror.Status) { done <- s })
	if err != nil {
		return err
	}
	if s := <-done; s != raid1mirror.StatusSuccess {
		return fmt.Errorf("read completed with status %v", s)
	}
	return nil
}

// parseSize parses a size string like "64M", "1G", "512K"
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)

	var multiplier int64 = 1
	var numStr string

	if strings.HasSuffix(s, "K") {
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	} else if strings.HasSuffix(s, "M") {
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	} else if strings.HasSuffix(s, "G") {
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	} else {
		numStr = s
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}

	return num * multiplier, nil
}

// formatSize formats a byte count as a human-readable string
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}
