// Command mlx5accel-bench drives a Channel against a simulated NIC and
// reports elapsed time and throughput for one opcode, the way go-ublk/cmd/ublk-mem
// smoke-tests a memory backend end to end without real hardware.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	mlx5accel "github.com/behrlich/go-mlx5accel"
	"github.com/behrlich/go-mlx5accel/internal/logging"
	"github.com/behrlich/go-mlx5accel/internal/nic"
)

func main() {
	var (
		opcode  = flag.String("opcode", "copy", "operation to benchmark: copy, encrypt, decrypt, crc32c")
		size    = flag.Int("size", 4096, "payload size in bytes")
		count   = flag.Int("count", 10000, "number of tasks to submit")
		verbose = flag.Bool("v", false, "verbose logging")
		siglast = flag.Bool("siglast", false, "enable signal-last CQE optimization")
		merge   = flag.Bool("merge", false, "enable encrypt+CRC fusion")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logging.SetDefault(logging.NewLogger(logConfig))

	cfg := mlx5accel.DefaultConfig()
	cfg.Siglast = *siglast
	cfg.Merge = *merge

	module := mlx5accel.NewModule(cfg)
	simDev := nic.NewSimDevice("mlx5_sim0", nic.Capabilities{
		CryptoMultiBlock:   true,
		TweakModeIncr64:    true,
		CryptoSupported:    true,
		SignatureSupported: true,
	})
	if _, err := module.AddDevice(simDev, nil); err != nil {
		log.Fatalf("add device: %v", err)
	}

	if err := module.CryptoKeyInit(1, make([]byte, 32), make([]byte, 32)); err != nil {
		log.Fatalf("crypto key init: %v", err)
	}
	defer module.CryptoKeyDeinit(1)

	ch := module.GetIOChannel()

	op, err := parseOpcode(*opcode)
	if err != nil {
		log.Fatalf("%v", err)
	}

	start := time.Now()
	completed := 0
	failed := 0

	for i := 0; i < *count; i++ {
		buf := make([]byte, *size)
		done := false
		task := buildTask(op, buf, func(tk *mlx5accel.Task, err error) {
			done = true
			if err != nil {
				failed++
			} else {
				completed++
			}
		})
		if err := ch.SubmitTask(task); err != nil {
			log.Fatalf("submit: %v", err)
		}
		for !done {
			ch.Poll()
		}
	}

	elapsed := time.Since(start)
	fmt.Printf("opcode=%s count=%d size=%d completed=%d failed=%d elapsed=%s throughput=%.0f ops/s\n",
		op, *count, *size, completed, failed, elapsed, float64(*count)/elapsed.Seconds())

	if failed > 0 {
		os.Exit(1)
	}
}

func parseOpcode(s string) (mlx5accel.Opcode, error) {
	switch s {
	case "copy":
		return mlx5accel.OpCopy, nil
	case "encrypt":
		return mlx5accel.OpEncrypt, nil
	case "decrypt":
		return mlx5accel.OpDecrypt, nil
	case "crc32c":
		return mlx5accel.OpChecksumCRC32C, nil
	default:
		return 0, fmt.Errorf("unknown opcode %q", s)
	}
}

func buildTask(op mlx5accel.Opcode, buf []byte, cb mlx5accel.CompletionFunc) *mlx5accel.Task {
	t := mlx5accel.NewTask(op, cb)
	t.Src = []mlx5accel.IOV{mlx5accel.IOVFromBytes(buf)}
	switch op {
	case mlx5accel.OpCopy:
		t.Dst = []mlx5accel.IOV{mlx5accel.IOVFromBytes(make([]byte, len(buf)))}
	case mlx5accel.OpEncrypt, mlx5accel.OpDecrypt:
		t.BlockSize = 512
		t.DekObjID = 1
	case mlx5accel.OpChecksumCRC32C:
		var crc uint32
		t.CRCDst = &crc
	}
	return t
}
