package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	gomodbus "github.com/goburrow/modbus"
	"github.com/spf13/cobra"

	modbus "github.com/edgeo-scada/modbus-sim"
)

var (
	watchInterval time.Duration
	watchCount    int
	watchShowDiff bool
	watchClear    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Continuously monitor device values",
	Long: `Poll coils, discrete inputs, holding registers or input registers at a
fixed interval and print them, optionally highlighting changes.`,
	Example: `  # Watch 5 holding registers every second
  modbus-sim probe watch hr -a 0 -c 5 -i 1s

  # Watch coils with change highlighting, stop after 10 polls
  modbus-sim probe watch c -a 0 -c 8 --diff -n 10`,
}

var watchHoldingRegistersCmd = &cobra.Command{
	Use:     "holding-registers",
	Aliases: []string{"hr", "holding"},
	Short:   "Watch holding registers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchRegisters("Holding Registers", gomodbus.Client.ReadHoldingRegisters)
	},
}

var watchInputRegistersCmd = &cobra.Command{
	Use:     "input-registers",
	Aliases: []string{"ir", "input"},
	Short:   "Watch input registers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchRegisters("Input Registers", gomodbus.Client.ReadInputRegisters)
	},
}

var watchCoilsCmd = &cobra.Command{
	Use:     "coils",
	Aliases: []string{"c", "coil"},
	Short:   "Watch coils",
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchBools("Coils", gomodbus.Client.ReadCoils)
	},
}

var watchDiscreteInputsCmd = &cobra.Command{
	Use:     "discrete-inputs",
	Aliases: []string{"di", "discrete"},
	Short:   "Watch discrete inputs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchBools("Discrete Inputs", gomodbus.Client.ReadDiscreteInputs)
	},
}

func init() {
	probeCmd.AddCommand(watchCmd)
	watchCmd.AddCommand(watchHoldingRegistersCmd)
	watchCmd.AddCommand(watchInputRegistersCmd)
	watchCmd.AddCommand(watchCoilsCmd)
	watchCmd.AddCommand(watchDiscreteInputsCmd)

	for _, cmd := range []*cobra.Command{watchHoldingRegistersCmd, watchInputRegistersCmd, watchCoilsCmd, watchDiscreteInputsCmd} {
		cmd.Flags().Uint16VarP(&readAddr, "address", "a", 0, "Starting address")
		cmd.Flags().Uint16VarP(&readCount, "count", "c", 1, "Number of items to read")
		cmd.Flags().DurationVarP(&watchInterval, "interval", "i", 1*time.Second, "Poll interval")
		cmd.Flags().IntVarP(&watchCount, "iterations", "n", 0, "Number of iterations (0 = infinite)")
		cmd.Flags().BoolVar(&watchShowDiff, "diff", false, "Highlight changed values")
		cmd.Flags().BoolVar(&watchClear, "clear", true, "Clear terminal between updates")
	}
}

// readFunc is the shape of the goburrow read methods.
type readFunc func(c gomodbus.Client, address, quantity uint16) ([]byte, error)

type watchState struct {
	iteration    int
	errorCount   int
	successCount int
	startTime    time.Time
	prevRegs     []uint16
	prevBits     []bool
}

func watchRegisters(title string, read readFunc) error {
	return watchLoop(title, read, func(s *watchState, data []byte, now time.Time) error {
		values := bytesToRegisters(data)
		err := s.displayRegisters(title, values, now)
		s.prevRegs = values
		return err
	})
}

func watchBools(title string, read readFunc) error {
	return watchLoop(title, read, func(s *watchState, data []byte, now time.Time) error {
		values := modbus.UnpackBits(data, int(readCount))
		err := s.displayBools(title, values, now)
		s.prevBits = values
		return err
	})
}

// watchLoop polls until interrupted or until watchCount polls succeeded.
func watchLoop(title string, read readFunc, display func(*watchState, []byte, time.Time) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withClient(func(c gomodbus.Client) error {
		state := &watchState{startTime: time.Now()}
		ticker := time.NewTicker(watchInterval)
		defer ticker.Stop()

		for {
			data, err := read(c, readAddr, readCount)
			if err != nil {
				state.errorCount++
				logger.Warn("read failed", "table", title, "error", describe("read", err))
			} else {
				state.iteration++
				state.successCount++
				if err := display(state, data, time.Now()); err != nil {
					return err
				}
			}
			if watchCount > 0 && state.iteration >= watchCount {
				state.printSummary()
				return nil
			}

			select {
			case <-ctx.Done():
				fmt.Fprintln(stdout, "\nStopping watch...")
				state.printSummary()
				return nil
			case <-ticker.C:
			}
		}
	})
}

func (s *watchState) header(title string, now time.Time) {
	if watchClear && s.iteration > 1 {
		fmt.Fprint(stdout, "\033[H\033[2J")
	}
	fmt.Fprintf(stdout, "%s - Watching %s (Address %d-%d)\n",
		color(colorBold, "MODBUS WATCH"), title, readAddr, int(readAddr)+int(readCount)-1)
	fmt.Fprintf(stdout, "Host: %s | Unit: %d | Interval: %s\n", getAddress(), unitID, watchInterval)
	fmt.Fprintf(stdout, "Time: %s | Iteration: %d", now.Format("15:04:05.000"), s.iteration)
	if watchCount > 0 {
		fmt.Fprintf(stdout, "/%d", watchCount)
	}
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, strings.Repeat("-", 60))
}

func (s *watchState) displayRegisters(title string, values []uint16, now time.Time) error {
	if outputFmt == "json" {
		return json.NewEncoder(stdout).Encode(struct {
			Timestamp string   `json:"timestamp"`
			Iteration int      `json:"iteration"`
			Address   uint16   `json:"start_address"`
			Values    []uint16 `json:"values"`
		}{now.Format(time.RFC3339Nano), s.iteration, readAddr, values})
	}

	s.header(title, now)
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDR\tVALUE\tHEX\tCHANGE")
	fmt.Fprintln(w, "----\t-----\t---\t------")
	for i, v := range values {
		change := ""
		if watchShowDiff && i < len(s.prevRegs) {
			diff := int(v) - int(s.prevRegs[i])
			if diff > 0 {
				change = color(colorGreen, fmt.Sprintf("+%d", diff))
			} else if diff < 0 {
				change = color(colorRed, fmt.Sprintf("%d", diff))
			}
		}
		fmt.Fprintf(w, "%d\t%d\t0x%04X\t%s\n", int(readAddr)+i, v, v, change)
	}
	return w.Flush()
}

func (s *watchState) displayBools(title string, values []bool, now time.Time) error {
	if outputFmt == "json" {
		return json.NewEncoder(stdout).Encode(struct {
			Timestamp string `json:"timestamp"`
			Iteration int    `json:"iteration"`
			Address   uint16 `json:"start_address"`
			Values    []bool `json:"values"`
		}{now.Format(time.RFC3339Nano), s.iteration, readAddr, values})
	}

	s.header(title, now)
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDR\tVALUE\tSTATUS\tCHANGE")
	fmt.Fprintln(w, "----\t-----\t------\t------")
	for i, v := range values {
		status := color(colorRed, "OFF")
		if v {
			status = color(colorGreen, "ON")
		}
		change := ""
		if watchShowDiff && i < len(s.prevBits) && v != s.prevBits[i] {
			if v {
				change = color(colorGreen, "->ON")
			} else {
				change = color(colorRed, "->OFF")
			}
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", int(readAddr)+i, boolDigit(v), status, change)
	}
	return w.Flush()
}

func (s *watchState) printSummary() {
	if outputFmt == "json" {
		return
	}
	duration := time.Since(s.startTime)
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, color(colorBold, "Watch Summary"))
	fmt.Fprintln(stdout, strings.Repeat("-", 30))
	fmt.Fprintf(stdout, "Duration:    %s\n", duration.Round(time.Millisecond))
	fmt.Fprintf(stdout, "Iterations:  %d\n", s.iteration)
	fmt.Fprintf(stdout, "Success:     %d\n", s.successCount)
	fmt.Fprintf(stdout, "Errors:      %d\n", s.errorCount)
}
