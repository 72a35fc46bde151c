// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Jackstat - Jacking Rig Supervisor
//
// A CLI tool that lowers a twelve leg jacking rig to its target depth while
// keeping it level, and diagnoses the actuator controller link.

package main

import (
	"os"

	"github.com/Thermoquad/jackstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
