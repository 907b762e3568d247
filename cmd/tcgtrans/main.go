// Command tcgtrans is the reference harness for the translator core:
// it drives pkg/disas.Loop over a raw guest code image one TB at a
// time and prints the emitted IR, replacing bassosimone/risc32's three
// single-purpose binaries (cmd/asm, cmd/vm, cmd/interp) with one
// urfave/cli/v3 command tree of subcommands. It never executes guest
// code; there is no backend in this build's scope.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/kvemu/tcgtrans/pkg/arch/lm32"
	"github.com/kvemu/tcgtrans/pkg/arch/riscv"
	"github.com/kvemu/tcgtrans/pkg/config"
	"github.com/kvemu/tcgtrans/pkg/disas"
	"github.com/kvemu/tcgtrans/pkg/guest"
	"github.com/kvemu/tcgtrans/pkg/stepctl"
	"github.com/kvemu/tcgtrans/pkg/tcg"
	"github.com/kvemu/tcgtrans/pkg/unwind"
)

func main() {
	log.SetFlags(0)
	cmd := &cli.Command{
		Name:  "tcgtrans",
		Usage: "translate a guest code image into TCG-style IR, one TB at a time",
		Commands: []*cli.Command{
			translateCommand(),
			stepCommand(),
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func archFlag() cli.Flag {
	return &cli.StringFlag{Name: "arch", Usage: "riscv or lm32", Required: true}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{Name: "config", Usage: "path to an ISAConfig TOML file (defaults to the built-in config for --arch)"}
}

func baseFlag() cli.Flag {
	return &cli.UintFlag{Name: "base", Usage: "guest load address of the image", Value: 0}
}

func maxInsnsFlag() cli.Flag {
	return &cli.Int64Flag{Name: "max-insns", Usage: "maximum instructions per TB", Value: 512}
}

func breakFlag() cli.Flag {
	return &cli.StringSliceFlag{Name: "break", Usage: "guest PC to breakpoint (repeatable; accepts 0x-prefixed hex)"}
}

func icountFlag() cli.Flag {
	return &cli.BoolFlag{Name: "icount", Usage: "end each TB at the first guest-memory access, as an instruction-count accounting boundary would require"}
}

// breakpointSetFromFlag builds a disas.BreakpointSet from every --break
// value given, so a guest breakpoint can actually be set from the CLI
// instead of only from a unit test constructing one directly.
func breakpointSetFromFlag(cmd *cli.Command) (*disas.BreakpointSet, error) {
	bps := disas.NewBreakpointSet()
	for _, s := range cmd.StringSlice("break") {
		pc, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("tcgtrans: invalid --break value %q: %w", s, err)
		}
		bps.Add(pc)
	}
	return bps, nil
}

func translateCommand() *cli.Command {
	return &cli.Command{
		Name:      "translate",
		Usage:     "translate a code image, printing each TB's IR and unwind-entry count",
		Flags:     []cli.Flag{archFlag(), configFlag(), baseFlag(), maxInsnsFlag(), breakFlag(), icountFlag()},
		Arguments: []cli.Argument{&cli.StringArg{Name: "file"}},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			front, err := loadFrontend(cmd)
			if err != nil {
				return err
			}
			front.icount = cmd.Bool("icount")
			bps, err := breakpointSetFromFlag(cmd)
			if err != nil {
				return err
			}
			return runLoop(ctx, front, bps, func(tb *disas.TranslationBlock) error {
				printTB(tb)
				return nil
			})
		},
	}
}

func stepCommand() *cli.Command {
	return &cli.Command{
		Name:  "step",
		Usage: "translate a code image one guest instruction at a time, pausing after each",
		Flags: []cli.Flag{
			archFlag(), configFlag(), baseFlag(), maxInsnsFlag(), breakFlag(), icountFlag(),
			&cli.BoolFlag{Name: "remote", Usage: "wait on a remote control connection instead of the local keyboard"},
		},
		Arguments: []cli.Argument{&cli.StringArg{Name: "file"}},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			front, err := loadFrontend(cmd)
			if err != nil {
				return err
			}
			front.singleStep = true
			front.icount = cmd.Bool("icount")
			bps, err := breakpointSetFromFlag(cmd)
			if err != nil {
				return err
			}

			if cmd.Bool("remote") {
				ctrl, err := stepctl.Accept()
				if err != nil {
					return err
				}
				defer ctrl.Close()
				return runLoop(ctx, front, bps, func(tb *disas.TranslationBlock) error {
					printTB(tb)
					if err := ctrl.ReportTB(tb.PCFirst, tb.PCLast, tb.NumInsns); err != nil {
						return err
					}
					return ctrl.WaitContinue()
				})
			}

			fd := int(os.Stdin.Fd())
			old, err := term.MakeRaw(fd)
			if err != nil {
				return fmt.Errorf("step: enable raw mode: %w", err)
			}
			defer term.Restore(fd, old)
			stdin := bufio.NewReader(os.Stdin)
			return runLoop(ctx, front, bps, func(tb *disas.TranslationBlock) error {
				printTB(tb)
				fmt.Fprint(os.Stdout, "\r\n-- press any key to step to the next instruction --\r\n")
				_, err := stdin.ReadByte()
				return err
			})
		},
	}
}

// frontend bundles a TranslatorOps implementation with the guest
// memory it fetches from; translate/step differ only in step's
// single-stepping and in what they do once a TB comes back.
type frontend struct {
	ops        disas.TranslatorOps
	mem        *guest.Memory
	maxInsns   int64
	pc         uint64
	end        uint64
	singleStep bool
	icount     bool
}

func loadFrontend(cmd *cli.Command) (*frontend, error) {
	name := cmd.String("file")
	if name == "" {
		return nil, fmt.Errorf("tcgtrans: missing file argument")
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}

	base := uint32(cmd.Uint("base"))
	mem := guest.NewMemory(len(data) + int(base))
	if err := mem.LoadAt(base, data); err != nil {
		return nil, err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	var ops disas.TranslatorOps
	switch cmd.String("arch") {
	case "riscv":
		d, err := riscv.New(cfg)
		if err != nil {
			return nil, err
		}
		ops = d
	case "lm32":
		d, err := lm32.New(cfg)
		if err != nil {
			return nil, err
		}
		ops = d
	default:
		return nil, fmt.Errorf("tcgtrans: unknown --arch %q", cmd.String("arch"))
	}

	return &frontend{
		ops:      ops,
		mem:      mem,
		maxInsns: cmd.Int64("max-insns"),
		pc:       uint64(base),
		end:      uint64(base) + uint64(len(data)),
	}, nil
}

func loadConfig(cmd *cli.Command) (*config.ISAConfig, error) {
	if path := cmd.String("config"); path != "" {
		return config.Load(path)
	}
	switch cmd.String("arch") {
	case "riscv":
		return config.Default("riscv32imac")
	case "lm32":
		return config.Default("lm32")
	default:
		return nil, fmt.Errorf("tcgtrans: unknown --arch %q", cmd.String("arch"))
	}
}

// runLoop drives disas.Loop TB after TB across the whole image,
// calling onTB after each one completes, until the image is
// exhausted or a TB terminates with NoReturn.
func runLoop(ctx context.Context, f *frontend, breakpoints *disas.BreakpointSet, onTB func(*disas.TranslationBlock) error) error {
	for f.pc < f.end {
		dc := &disas.Context{PCFirst: f.pc, PCNext: f.pc, MaxInsns: int(f.maxInsns), SingleStepEnabled: f.singleStep, IcountEnabled: f.icount}
		b := tcg.NewBuilder()
		tb, err := disas.Loop(ctx, f.mem, f.ops, dc, b, breakpoints.Snapshot(), nil)
		if err != nil {
			return err
		}
		if err := onTB(tb); err != nil {
			return err
		}
		if tb.IsJmp == disas.NoReturn {
			break
		}
		f.pc = tb.PCLast
	}
	return nil
}

func printTB(tb *disas.TranslationBlock) {
	fmt.Printf("-- TB pc=%#x..%#x insns=%d successors=[%#x %#x] flags=%#x\n",
		tb.PCFirst, tb.PCLast, tb.NumInsns, tb.Successor[0], tb.Successor[1], tb.Flags)
	fmt.Print(tb.Program.String())
	tbl := unwind.BuildFromProgram(tb.Program)
	fmt.Printf("   (%d unwind entries)\n", tbl.Len())
}
