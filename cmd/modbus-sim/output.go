package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
)

// Color codes
const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorBold  = "\033[1m"
)

// stdout is where probe results go.
var stdout io.Writer = os.Stdout

func color(c, s string) string {
	if noColor {
		return s
	}
	return c + s + colorReset
}

func outputSuccess(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stdout, color(colorGreen, "OK")+" "+msg)
}

type BoolResult struct {
	Address uint16 `json:"address"`
	Value   bool   `json:"value"`
}

type RegisterResult struct {
	Address uint16 `json:"address"`
	Value   uint16 `json:"value"`
	Hex     string `json:"hex"`
}

func outputBoolValues(title string, startAddr uint16, values []bool) error {
	switch outputFmt {
	case "json":
		results := make([]BoolResult, len(values))
		for i, v := range values {
			results[i] = BoolResult{Address: startAddr + uint16(i), Value: v}
		}
		return writeJSON(results)
	case "csv":
		w := csv.NewWriter(stdout)
		w.Write([]string{"address", "value"})
		for i, v := range values {
			w.Write([]string{strconv.Itoa(int(startAddr) + i), boolDigit(v)})
		}
		w.Flush()
		return w.Error()
	default:
		return outputBoolTable(title, startAddr, values)
	}
}

func outputBoolTable(title string, startAddr uint16, values []bool) error {
	printHeader(title, startAddr, len(values), 40)

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tVALUE\tSTATUS")
	fmt.Fprintln(w, "-------\t-----\t------")
	for i, v := range values {
		status := color(colorRed, "OFF")
		if v {
			status = color(colorGreen, "ON")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", int(startAddr)+i, boolDigit(v), status)
	}
	w.Flush()
	fmt.Fprintln(stdout)
	return nil
}

func outputRegisterValues(title string, startAddr uint16, values []uint16) error {
	switch outputFmt {
	case "json":
		results := make([]RegisterResult, len(values))
		for i, v := range values {
			results[i] = RegisterResult{
				Address: startAddr + uint16(i),
				Value:   v,
				Hex:     fmt.Sprintf("0x%04X", v),
			}
		}
		return writeJSON(results)
	case "csv":
		w := csv.NewWriter(stdout)
		w.Write([]string{"address", "value", "hex"})
		for i, v := range values {
			w.Write([]string{strconv.Itoa(int(startAddr) + i), strconv.Itoa(int(v)), fmt.Sprintf("0x%04X", v)})
		}
		w.Flush()
		return w.Error()
	default:
		return outputRegisterTable(title, startAddr, values)
	}
}

func outputRegisterTable(title string, startAddr uint16, values []uint16) error {
	printHeader(title, startAddr, len(values), 60)

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tDECIMAL\tHEX\tBINARY")
	fmt.Fprintln(w, "-------\t-------\t---\t------")
	for i, v := range values {
		fmt.Fprintf(w, "%d\t%d\t0x%04X\t%016b\n", int(startAddr)+i, v, v, v)
	}
	w.Flush()
	fmt.Fprintln(stdout)
	return nil
}

func printHeader(title string, startAddr uint16, count, width int) {
	fmt.Fprintf(stdout, "\n%s (Address %d-%d, Count: %d)\n",
		color(colorBold, title),
		startAddr,
		int(startAddr)+count-1,
		count)
	fmt.Fprintln(stdout, strings.Repeat("-", width))
}

func writeJSON(v interface{}) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func boolDigit(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
