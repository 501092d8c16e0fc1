package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	gomodbus "github.com/goburrow/modbus"
	"github.com/spf13/cobra"

	modbus "github.com/edgeo-scada/modbus-sim"
)

var (
	// Connection flags
	host    string
	port    int
	unitID  uint8
	timeout time.Duration

	readAddr  uint16
	readCount uint16

	writeAddr   uint16
	writeValues []string
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Read or write a running Modbus TCP device",
	Long:  `Exercise a running simulator, or any Modbus TCP device, with single requests.`,
}

var readCmd = &cobra.Command{
	Use:     "read",
	Aliases: []string{"r"},
	Short:   "Read data from a Modbus device",
	Long:    `Read coils, discrete inputs, holding registers, or input registers from a Modbus device.`,
}

var writeCmd = &cobra.Command{
	Use:     "write",
	Aliases: []string{"w"},
	Short:   "Write data to a Modbus device",
	Long:    `Write coils or holding registers on a Modbus device.`,
}

var readCoilsCmd = &cobra.Command{
	Use:     "coils",
	Aliases: []string{"c", "coil"},
	Short:   "Read coils (FC01)",
	Example: `  modbus-sim probe read coils -a 0 -c 10
  modbus-sim probe r c -a 100 -c 8 -H 192.168.1.100 -p 502`,
	RunE: runReadCoils,
}

var readDiscreteInputsCmd = &cobra.Command{
	Use:     "discrete-inputs",
	Aliases: []string{"di", "discrete"},
	Short:   "Read discrete inputs (FC02)",
	Example: `  modbus-sim probe read discrete-inputs -a 0 -c 10`,
	RunE:    runReadDiscreteInputs,
}

var readHoldingRegistersCmd = &cobra.Command{
	Use:     "holding-registers",
	Aliases: []string{"hr", "holding"},
	Short:   "Read holding registers (FC03)",
	Example: `  modbus-sim probe read holding-registers -a 0 -c 10
  modbus-sim probe r hr -a 100 -c 4 -o json`,
	RunE: runReadHoldingRegisters,
}

var readInputRegistersCmd = &cobra.Command{
	Use:     "input-registers",
	Aliases: []string{"ir", "input"},
	Short:   "Read input registers (FC04)",
	Example: `  modbus-sim probe read input-registers -a 0 -c 10`,
	RunE:    runReadInputRegisters,
}

var writeCoilCmd = &cobra.Command{
	Use:     "coil",
	Aliases: []string{"c"},
	Short:   "Write single coil (FC05)",
	Long: `Write a single coil using function code 05.

Value can be: 1, 0, true, false, on, off`,
	Example: `  modbus-sim probe write coil -a 0 -V 1
  modbus-sim probe w c -a 100 -V off`,
	RunE: runWriteCoil,
}

var writeCoilsCmd = &cobra.Command{
	Use:     "coils",
	Aliases: []string{"cs"},
	Short:   "Write multiple coils (FC15)",
	Long: `Write multiple coils using function code 15.

Values can be comma-separated: 1,0,1,1 or 1 0 1 1`,
	Example: `  modbus-sim probe write coils -a 0 -V 1,0,1,1,0`,
	RunE:    runWriteCoils,
}

var writeRegisterCmd = &cobra.Command{
	Use:     "register",
	Aliases: []string{"reg", "r"},
	Short:   "Write single register (FC06)",
	Long: `Write a single holding register using function code 06.

Value can be decimal, hexadecimal (0x prefix), or binary (0b prefix).`,
	Example: `  modbus-sim probe write register -a 0 -V 1234
  modbus-sim probe w r -a 100 -V 0xFF00`,
	RunE: runWriteRegister,
}

var writeRegistersCmd = &cobra.Command{
	Use:     "registers",
	Aliases: []string{"regs", "rs"},
	Short:   "Write multiple registers (FC16)",
	Long: `Write multiple holding registers using function code 16.

Values can be comma-separated or space-separated.`,
	Example: `  modbus-sim probe write registers -a 0 -V 100,200,300
  modbus-sim probe w rs -a 50 -V "0x1234 0x5678"`,
	RunE: runWriteRegisters,
}

func init() {
	pf := probeCmd.PersistentFlags()
	pf.StringVarP(&host, "host", "H", "127.0.0.1", "Modbus server host")
	pf.IntVarP(&port, "port", "p", 5020, "Modbus server port")
	pf.Uint8VarP(&unitID, "unit", "u", 1, "Modbus unit ID")
	pf.DurationVarP(&timeout, "timeout", "t", 5*time.Second, "Operation timeout")

	probeCmd.AddCommand(readCmd)
	probeCmd.AddCommand(writeCmd)

	readCmd.AddCommand(readCoilsCmd)
	readCmd.AddCommand(readDiscreteInputsCmd)
	readCmd.AddCommand(readHoldingRegistersCmd)
	readCmd.AddCommand(readInputRegistersCmd)
	for _, cmd := range []*cobra.Command{readCoilsCmd, readDiscreteInputsCmd, readHoldingRegistersCmd, readInputRegistersCmd} {
		cmd.Flags().Uint16VarP(&readAddr, "address", "a", 0, "Starting address")
		cmd.Flags().Uint16VarP(&readCount, "count", "c", 1, "Number of items to read")
	}

	writeCmd.AddCommand(writeCoilCmd)
	writeCmd.AddCommand(writeCoilsCmd)
	writeCmd.AddCommand(writeRegisterCmd)
	writeCmd.AddCommand(writeRegistersCmd)
	for _, cmd := range []*cobra.Command{writeCoilCmd, writeCoilsCmd, writeRegisterCmd, writeRegistersCmd} {
		cmd.Flags().Uint16VarP(&writeAddr, "address", "a", 0, "Starting address")
		cmd.Flags().StringSliceVarP(&writeValues, "values", "V", nil, "Values to write")
		cmd.MarkFlagRequired("values")
	}
}

func getAddress() string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// withClient connects to the device, runs fn and closes the connection.
func withClient(fn func(gomodbus.Client) error) error {
	handler := gomodbus.NewTCPClientHandler(getAddress())
	handler.Timeout = timeout
	handler.SlaveId = unitID
	if verbose {
		handler.Logger = slog.NewLogLogger(logger.Handler(), slog.LevelDebug)
	}

	if err := handler.Connect(); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer handler.Close()

	logger.Debug("connected", slog.String("addr", getAddress()), slog.Int("unit_id", int(unitID)))
	return fn(gomodbus.NewClient(handler))
}

// describe turns a device exception into a readable error.
func describe(op string, err error) error {
	var mbErr *gomodbus.ModbusError
	if errors.As(err, &mbErr) {
		return fmt.Errorf("%s failed: device answered exception %s (0x%02X)",
			op, modbus.ExceptionCode(mbErr.ExceptionCode), mbErr.ExceptionCode)
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

func runReadCoils(cmd *cobra.Command, args []string) error {
	return withClient(func(c gomodbus.Client) error {
		data, err := c.ReadCoils(readAddr, readCount)
		if err != nil {
			return describe("read coils", err)
		}
		return outputBoolValues("Coils", readAddr, modbus.UnpackBits(data, int(readCount)))
	})
}

func runReadDiscreteInputs(cmd *cobra.Command, args []string) error {
	return withClient(func(c gomodbus.Client) error {
		data, err := c.ReadDiscreteInputs(readAddr, readCount)
		if err != nil {
			return describe("read discrete inputs", err)
		}
		return outputBoolValues("Discrete Inputs", readAddr, modbus.UnpackBits(data, int(readCount)))
	})
}

func runReadHoldingRegisters(cmd *cobra.Command, args []string) error {
	return withClient(func(c gomodbus.Client) error {
		data, err := c.ReadHoldingRegisters(readAddr, readCount)
		if err != nil {
			return describe("read holding registers", err)
		}
		return outputRegisterValues("Holding Registers", readAddr, bytesToRegisters(data))
	})
}

func runReadInputRegisters(cmd *cobra.Command, args []string) error {
	return withClient(func(c gomodbus.Client) error {
		data, err := c.ReadInputRegisters(readAddr, readCount)
		if err != nil {
			return describe("read input registers", err)
		}
		return outputRegisterValues("Input Registers", readAddr, bytesToRegisters(data))
	})
}

func runWriteCoil(cmd *cobra.Command, args []string) error {
	if len(writeValues) == 0 {
		return fmt.Errorf("value required")
	}
	value, err := parseBoolValue(writeValues[0])
	if err != nil {
		return fmt.Errorf("invalid coil value: %w", err)
	}

	wire := modbus.CoilOff
	if value {
		wire = modbus.CoilOn
	}
	return withClient(func(c gomodbus.Client) error {
		if _, err := c.WriteSingleCoil(writeAddr, wire); err != nil {
			return describe("write coil", err)
		}
		outputSuccess("Wrote coil %d = %v", writeAddr, value)
		return nil
	})
}

func runWriteCoils(cmd *cobra.Command, args []string) error {
	values, err := parseBoolValues(writeValues)
	if err != nil {
		return fmt.Errorf("invalid coil values: %w", err)
	}
	if len(values) == 0 {
		return fmt.Errorf("at least one value required")
	}

	return withClient(func(c gomodbus.Client) error {
		if _, err := c.WriteMultipleCoils(writeAddr, uint16(len(values)), modbus.PackBits(values)); err != nil {
			return describe("write coils", err)
		}
		outputSuccess("Wrote %d coils starting at address %d", len(values), writeAddr)
		return nil
	})
}

func runWriteRegister(cmd *cobra.Command, args []string) error {
	if len(writeValues) == 0 {
		return fmt.Errorf("value required")
	}
	value, err := parseUint16Value(writeValues[0])
	if err != nil {
		return fmt.Errorf("invalid register value: %w", err)
	}

	return withClient(func(c gomodbus.Client) error {
		if _, err := c.WriteSingleRegister(writeAddr, value); err != nil {
			return describe("write register", err)
		}
		outputSuccess("Wrote register %d = %d (0x%04X)", writeAddr, value, value)
		return nil
	})
}

func runWriteRegisters(cmd *cobra.Command, args []string) error {
	values, err := parseUint16Values(writeValues)
	if err != nil {
		return fmt.Errorf("invalid register values: %w", err)
	}
	if len(values) == 0 {
		return fmt.Errorf("at least one value required")
	}

	return withClient(func(c gomodbus.Client) error {
		if _, err := c.WriteMultipleRegisters(writeAddr, uint16(len(values)), registersToBytes(values)); err != nil {
			return describe("write registers", err)
		}
		outputSuccess("Wrote %d registers starting at address %d", len(values), writeAddr)
		return nil
	})
}

func bytesToRegisters(data []byte) []uint16 {
	values := make([]uint16, len(data)/2)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return values
}

func registersToBytes(values []uint16) []byte {
	data := make([]byte, 2*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(data[i*2:], v)
	}
	return data
}
