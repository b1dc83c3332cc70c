// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"strconv"

	"github.com/sapcc/go-api-declarations/bininfo"
	"github.com/sapcc/go-bits/logg"
	"github.com/spf13/cobra"

	apicmd "github.com/sapcc/daedalus/cmd/api"
	janitorcmd "github.com/sapcc/daedalus/cmd/janitor"
)

func main() {
	logg.ShowDebug, _ = strconv.ParseBool(os.Getenv("DAEDALUS_DEBUG"))

	rootCmd := &cobra.Command{
		Use:     "daedalus",
		Short:   "Region-local IaaS control API",
		Long:    "Daedalus is the region-local IaaS control API. It tracks cloud infrastructure state and dispatches work to the Robot worker fleet.",
		Version: bininfo.VersionOr("unknown"),
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Server commands.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
	apicmd.AddCommandTo(serverCmd)
	janitorcmd.AddCommandTo(serverCmd)
	rootCmd.AddCommand(serverCmd)

	if err := rootCmd.Execute(); err != nil {
		logg.Fatal(err.Error())
	}
}
