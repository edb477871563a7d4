// AsteronIris - secure multi-channel AI assistant runtime
// License: MIT
//
// Copyright (c) 2026 AsteronIris contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asteroniris/asteroniris/pkg/errs"
)

// service is a thin stub: OS-service registration (systemd/launchd units,
// Windows service control) is out of scope for this runtime. Running
// 'daemon' under an existing process supervisor is the supported path.
var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Install/start/stop this runtime as an OS service (not implemented)",
}

var serviceSubcommands = []string{"install", "start", "stop", "status", "uninstall"}

func init() {
	for _, name := range serviceSubcommands {
		name := name
		serviceCmd.AddCommand(&cobra.Command{
			Use:   name,
			Short: fmt.Sprintf("%s the OS service (not implemented)", name),
			RunE: func(cmd *cobra.Command, args []string) error {
				return errs.New(errs.KindUser, "service management is out of scope for this runtime; run 'asteroniris daemon' under your own process supervisor (systemd, launchd, etc.)")
			},
		})
	}
}
