// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors
//
// Motorstat - DJI RoboMaster Motor CAN Tool
//
// A CLI tool for driving, monitoring and diagnosing DJI motor controllers
// on a CAN bus.

package main

import (
	"os"

	"github.com/rmctl/motorstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
