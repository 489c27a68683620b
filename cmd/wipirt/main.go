// Command wipirt runs WIPI-C guest programs under the emulated ARM core:
// it loads an ELF image, wires the kernel function surface, and either runs
// the entry point to completion or drives it through the cooperative
// executor under a live monitor.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/wipirt/wipirt/internal/config"
	"github.com/wipirt/wipirt/internal/disasm"
	"github.com/wipirt/wipirt/internal/driver"
	"github.com/wipirt/wipirt/internal/elfload"
	_ "github.com/wipirt/wipirt/internal/hostfn/all"
	"github.com/wipirt/wipirt/internal/hostfn"
	wlog "github.com/wipirt/wipirt/internal/log"
	"github.com/wipirt/wipirt/internal/sched"
	"github.com/wipirt/wipirt/internal/script"
	"github.com/wipirt/wipirt/internal/trace"
	"github.com/wipirt/wipirt/internal/tui"
	"github.com/wipirt/wipirt/internal/ui/colorize"
)

var (
	verbose    bool
	quiet      bool
	descriptor string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wipirt",
		Short: "Run WIPI-C guest programs under an emulated ARM core",
		Long: `wipirt loads a 32-bit ARM ELF guest image, maps its code and data,
wires its imports to an in-process kernel function table, and runs its
entry point through a cooperative, single-threaded ARM emulator.`,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose debug output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "quiet mode")
	rootCmd.PersistentFlags().StringVarP(&descriptor, "config", "c", "", "boot descriptor (YAML)")

	rootCmd.AddCommand(runCmd(), infoCmd(), monitorCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if descriptor == "" {
		return config.Default(), nil
	}
	return config.Load(descriptor)
}

func buildSystem(cfg *config.Config) (*driver.System, error) {
	wlog.Init(verbose)
	logger := wlog.L
	if quiet {
		logger = wlog.NewNop()
	}

	for _, sc := range cfg.Scripts {
		src := sc.Source
		if sc.File != "" {
			path := sc.File
			if !filepath.IsAbs(path) && descriptor != "" {
				path = filepath.Join(filepath.Dir(descriptor), path)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read script %s: %w", path, err)
			}
			src = string(data)
		}
		cb, err := script.Compile(sc.Name, src)
		if err != nil {
			return nil, err
		}
		hostfn.Register(hostfn.Def{Name: sc.Name, Aliases: sc.Aliases, Fn: cb.HostFunc(), Category: "script"})
	}

	sys, err := driver.New(cfg.DriverConfig(), hostfn.DefaultRegistry, logger)
	if err != nil {
		return nil, err
	}
	return sys, nil
}

func runCmd() *cobra.Command {
	var stepBudget uint64
	cmd := &cobra.Command{
		Use:   "run <image.so>",
		Short: "Run a guest image's entry point to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Image = args[0]

			sys, err := buildSystem(cfg)
			if err != nil {
				return err
			}
			defer sys.Close()

			img, err := elfload.Load(sys, cfg.Image)
			if err != nil {
				return err
			}

			entry := img.Entry
			if cfg.Entry != "" {
				if addr, ok := img.Symbols[cfg.Entry]; ok {
					entry = addr
				}
			}

			out := newOutputWriter()
			defer out.Close()
			if !quiet {
				sys.EnableTrace(func(e *trace.Event) {
					line := formatEvent(e)
					if verbose {
						if code, err := sys.ReadBytes(uint32(e.PC), 4); err == nil {
							ctx, _ := sys.SaveContext()
							insn := disasm.Decode(code, disasm.ModeForThumbBit(ctx.Cpsr))
							line += "  " + colorize.Instruction(insn.Text)
						}
					}
					out.Write(line)
				})
			}

			var result uint32
			if stepBudget == 0 {
				result, err = driver.Bootstrap(sys, entry, img.EndAddr-img.BaseAddr)
			} else {
				result, err = runCooperative(sys, entry, img.EndAddr-img.BaseAddr, stepBudget)
			}
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			if !quiet {
				fmt.Printf("entry returned 0x%08x\n", result)
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&stepBudget, "step-budget", 0, "instructions per executor tick (0 = run to completion synchronously)")
	return cmd
}

// runCooperative drives entry through the executor in fixed-size ticks until
// it resolves — the headless equivalent of what the monitor view does
// interactively. It prints nothing itself.
func runCooperative(sys *driver.System, entry, bssSize uint32, stepBudget uint64) (uint32, error) {
	exec := sched.New()
	var result uint32
	var callErr error
	fut, err := driver.RunFunction(sys, entry, []uint32{bssSize}, driver.Uint32Result, stepBudget)
	if err != nil {
		return 0, err
	}
	sched.Spawn(exec, fut, func(v uint32) { result = v })

	for !exec.Idle() {
		exec.Tick()
	}
	if e := fut.Err(); e != nil {
		callErr = e
	}
	return result, callErr
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <image.so>",
		Short: "Show guest image information",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Image = args[0]
			sys, err := buildSystem(cfg)
			if err != nil {
				return err
			}
			defer sys.Close()

			img, err := elfload.Load(sys, cfg.Image)
			if err != nil {
				return err
			}
			fmt.Printf("image:   %s\n", img.Path)
			fmt.Printf("base:    0x%08x\n", img.BaseAddr)
			fmt.Printf("end:     0x%08x\n", img.EndAddr)
			fmt.Printf("entry:   0x%08x\n", img.Entry)
			fmt.Printf("symbols: %d\n", len(img.Symbols))
			fmt.Printf("imports: %d\n", len(img.Imports))
			return nil
		},
	}
}

func monitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor <image.so>",
		Short: "Run a guest image under the live register/heap/trace monitor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Image = args[0]
			sys, err := buildSystem(cfg)
			if err != nil {
				return err
			}
			defer sys.Close()

			img, err := elfload.Load(sys, cfg.Image)
			if err != nil {
				return err
			}
			entry := img.Entry
			if cfg.Entry != "" {
				if addr, ok := img.Symbols[cfg.Entry]; ok {
					entry = addr
				}
			}

			exec := sched.New()
			fut, err := driver.RunFunction(sys, entry, []uint32{img.EndAddr - img.BaseAddr}, driver.Uint32Result, 2000)
			if err != nil {
				return err
			}
			sched.Spawn(exec, fut, func(uint32) {})

			return tui.Run(tui.New(sys, exec))
		},
	}
}

func formatEvent(e *trace.Event) string {
	tag := colorize.Tag(e.PrimaryTag())
	name := colorize.FuncName(e.Name)
	addr := colorize.Address(e.PC)
	if e.Detail == "" {
		return fmt.Sprintf("%s %s %s", addr, tag, name)
	}
	return fmt.Sprintf("%s %s %s  %s", addr, tag, name, colorize.Detail(e.Detail))
}

// outputWriter buffers trace lines to stdout off the emulation hot path,
// the same pattern the teacher's CLI used to keep disassembly printing from
// stalling the emulator's instruction hook.
type outputWriter struct {
	ch     chan string
	done   chan struct{}
	writer *bufio.Writer
}

func newOutputWriter() *outputWriter {
	w := &outputWriter{
		ch:     make(chan string, 2048),
		done:   make(chan struct{}),
		writer: bufio.NewWriterSize(os.Stdout, 64*1024),
	}
	go w.run()
	return w
}

func (w *outputWriter) run() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case line, ok := <-w.ch:
			if !ok {
				w.writer.Flush()
				close(w.done)
				return
			}
			w.writer.WriteString(line)
			w.writer.WriteByte('\n')
		case <-ticker.C:
			w.writer.Flush()
		}
	}
}

func (w *outputWriter) Write(line string) {
	select {
	case w.ch <- line:
	default:
	}
}

func (w *outputWriter) Close() {
	close(w.ch)
	<-w.done
}
