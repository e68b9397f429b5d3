package backend

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/behrlich/go-raid1mirror/internal/interfaces"
)

// BenchmarkMemory measures the raw performance of the memory base device
func BenchmarkMemory(b *testing.B) {
	sizes := []int{
		4 * 1024,    // 4KB
		128 * 1024,  // 128KB
		1024 * 1024, // 1MB
	}

	const devSize = 64 << 20 // 64MB device
	const blockSize = 512

	noop := func(bool, error) {}
	ctx := context.Background()

	for _, size := range sizes {
		b.Run(benchSize(size), func(b *testing.B) {
			mem := NewMemoryGeometry(devSize, blockSize, 2048)
			defer mem.Close()

			data := make([]byte, size)
			rand.Read(data) // Random data to avoid compression optimizations
			blocks := uint64(size / blockSize)
			maxBlock := mem.DataSize() - blocks

			b.Run("Readv", func(b *testing.B) {
				buf := make([]byte, size)
				b.SetBytes(int64(size))
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					offset := uint64(rand.Int63n(int64(maxBlock)))
					mem.ReadvBlocksExt(ctx, [][]byte{buf}, offset, blocks, interfaces.MemoryDomainOpts{}, noop)
				}
			})

			b.Run("Writev", func(b *testing.B) {
				b.SetBytes(int64(size))
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					offset := uint64(rand.Int63n(int64(maxBlock)))
					mem.WritevBlocksExt(ctx, [][]byte{data}, offset, blocks, interfaces.MemoryDomainOpts{}, noop)
				}
			})

			b.Run("Readv_Sequential", func(b *testing.B) {
				buf := make([]byte, size)
				b.SetBytes(int64(size))
				b.ResetTimer()

				offset := uint64(0)
				for i := 0; i < b.N; i++ {
					mem.ReadvBlocksExt(ctx, [][]byte{buf}, offset, blocks, interfaces.MemoryDomainOpts{}, noop)
					offset += blocks
					if offset > maxBlock {
						offset = 0
					}
				}
			})
		})
	}
}

// BenchmarkMemoryParallel measures sharded-lock contention across
// goroutines, the case the shard layout exists for.
func BenchmarkMemoryParallel(b *testing.B) {
	const devSize = 64 << 20
	const blockSize = 512
	const ioSize = 4096

	mem := NewMemoryGeometry(devSize, blockSize, 2048)
	defer mem.Close()
	ctx := context.Background()
	noop := func(bool, error) {}
	blocks := uint64(ioSize / blockSize)
	maxBlock := mem.DataSize() - blocks

	b.SetBytes(ioSize)
	b.RunParallel(func(pb *testing.PB) {
		buf := make([]byte, ioSize)
		rng := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			offset := uint64(rng.Int63n(int64(maxBlock)))
			mem.ReadvBlocksExt(ctx, [][]byte{buf}, offset, blocks, interfaces.MemoryDomainOpts{}, noop)
		}
	})
}

func benchSize(size int) string {
	if size >= 1024*1024 {
		return fmt.Sprintf("%dMB", size/(1024*1024))
	}
	return fmt.Sprintf("%dKB", size/1024)
}
