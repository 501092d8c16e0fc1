package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"text/tabwriter"
	"time"

	gomodbus "github.com/goburrow/modbus"
	"github.com/spf13/cobra"

	modbus "github.com/edgeo-scada/modbus-sim"
)

var (
	scanStartUnit uint8
	scanEndUnit   uint8
	scanWorkers   int
	scanTimeout   time.Duration
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan a device for served unit ids",
	Long: `Send a one-register read to every unit id in a range and report the ones
that answer. A unit answering with exception 0x0A (gateway path unavailable)
is not served; any other answer, exceptions included, means it is.`,
	Example: `  modbus-sim probe scan --start-unit 1 --end-unit 20
  modbus-sim probe scan -H 192.168.1.100 -p 502 --workers 4 -o json`,
	RunE: runScan,
}

func init() {
	probeCmd.AddCommand(scanCmd)
	scanCmd.Flags().Uint8Var(&scanStartUnit, "start-unit", 1, "Start unit ID for scanning")
	scanCmd.Flags().Uint8Var(&scanEndUnit, "end-unit", 247, "End unit ID for scanning")
	scanCmd.Flags().IntVar(&scanWorkers, "workers", 10, "Number of concurrent workers")
	scanCmd.Flags().DurationVar(&scanTimeout, "scan-timeout", 1*time.Second, "Timeout for each scan attempt")
}

type ScanResult struct {
	UnitID     uint8         `json:"unit_id"`
	Responsive bool          `json:"responsive"`
	Error      string        `json:"error,omitempty"`
	Latency    time.Duration `json:"latency_ns,omitempty"`
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanStartUnit > scanEndUnit {
		return fmt.Errorf("start unit %d is greater than end unit %d", scanStartUnit, scanEndUnit)
	}
	if scanWorkers < 1 {
		scanWorkers = 1
	}

	results := scanUnits(getAddress(), scanStartUnit, scanEndUnit)
	return outputScanResults(results)
}

// scanUnits probes every unit id in [start, end] with at most scanWorkers
// connections open at once and returns the responsive ones sorted by id.
func scanUnits(addr string, start, end uint8) []ScanResult {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []ScanResult
	)
	semaphore := make(chan struct{}, scanWorkers)

	for uid := int(start); uid <= int(end); uid++ {
		wg.Add(1)
		go func(unit uint8) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			result := probeUnit(addr, unit)
			if result.Responsive {
				mu.Lock()
				results = append(results, result)
				mu.Unlock()
			}
		}(uint8(uid))
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool {
		return results[i].UnitID < results[j].UnitID
	})
	return results
}

func probeUnit(addr string, unit uint8) ScanResult {
	result := ScanResult{UnitID: unit}

	handler := gomodbus.NewTCPClientHandler(addr)
	handler.Timeout = scanTimeout
	handler.SlaveId = unit
	if err := handler.Connect(); err != nil {
		result.Error = err.Error()
		return result
	}
	defer handler.Close()

	start := time.Now()
	_, err := gomodbus.NewClient(handler).ReadHoldingRegisters(0, 1)
	result.Latency = time.Since(start)

	var mbErr *gomodbus.ModbusError
	switch {
	case err == nil:
		result.Responsive = true
	case errors.As(err, &mbErr):
		code := modbus.ExceptionCode(mbErr.ExceptionCode)
		result.Responsive = code != modbus.ExceptionGatewayPathUnavailable
		result.Error = code.String()
	default:
		result.Error = err.Error()
	}

	logger.Debug("probed unit", "unit_id", unit, "responsive", result.Responsive, "error", result.Error)
	return result
}

func outputScanResults(results []ScanResult) error {
	switch outputFmt {
	case "json":
		return writeJSON(results)
	case "csv":
		fmt.Fprintln(stdout, "unit_id,latency_ms,note")
		for _, r := range results {
			fmt.Fprintf(stdout, "%d,%s,%s\n", r.UnitID,
				strconv.FormatFloat(float64(r.Latency.Microseconds())/1000, 'f', 3, 64), r.Error)
		}
		return nil
	}

	fmt.Fprintf(stdout, "\n%s (%s)\n", color(colorBold, "Unit Scan Results"), getAddress())
	if len(results) == 0 {
		fmt.Fprintln(stdout, "No responsive units found")
		return nil
	}
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "UNIT\tLATENCY\tNOTE")
	fmt.Fprintln(w, "----\t-------\t----")
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%s\t%s\n", r.UnitID, r.Latency.Round(time.Microsecond), r.Error)
	}
	w.Flush()
	fmt.Fprintf(stdout, "\nFound %d responsive unit(s)\n", len(results))
	return nil
}
