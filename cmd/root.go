// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The motorstat Authors

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/rmctl/motorstat/pkg/can"
	"github.com/rmctl/motorstat/pkg/config"
)

var (
	// SocketCAN flags
	ifaceName string

	// SLCAN serial flags
	portName   string
	baudRate   int
	canBitrate int

	// WebSocket bridge flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Board file
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "motorstat",
	Short: "DJI RoboMaster motor CAN tool",
	Long: `Motorstat - A CLI tool for driving and monitoring DJI RoboMaster motors
(GM6020, M3508/C620, M2006/C610) over CAN.

Provides commands for frame logging, feedback checks, motor control and
capture replay to help bring up and diagnose a motor bus.

Connection modes:
  SocketCAN: --iface can0
  SLCAN:     --port /dev/ttyACM0 [--baud 115200] [--bitrate 1000000]
  WebSocket: --url ws://host/path [--username user]

Connection flags fall back to the MOTORSTAT_IFACE, MOTORSTAT_PORT,
MOTORSTAT_BAUD and MOTORSTAT_URL environment variables.

For WebSocket authentication, the password is read from the MOTORSTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:      "1.0.0",
	SilenceUsage: true,
}

func init() {
	// SocketCAN flags
	rootCmd.PersistentFlags().StringVarP(&ifaceName, "iface", "i", "", "SocketCAN interface (e.g. can0)")

	// SLCAN serial flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "SLCAN serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 0, "Baud rate (serial only, default 115200)")
	rootCmd.PersistentFlags().IntVar(&canBitrate, "bitrate", can.DefaultBitrate, "CAN bitrate (SLCAN only)")

	// WebSocket bridge flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket bridge URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Board file
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Board file describing the attached motors")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
