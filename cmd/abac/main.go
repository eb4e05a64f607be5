/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"os"

	"github.com/hyperledger/fabric-chaincode-cid/internal/abac/node"
	"github.com/hyperledger/fabric-chaincode-cid/internal/abac/version"
	"github.com/spf13/cobra"
)

// The main command describes the service and
// defaults to printing the help message.
var mainCmd = &cobra.Command{Use: "abac"}

func main() {
	mainCmd.AddCommand(version.Cmd())
	mainCmd.AddCommand(node.StartCmd())

	// On failure Cobra prints the usage message and error string, so we only
	// need to exit with a non-0 status
	if mainCmd.Execute() != nil {
		os.Exit(1)
	}
}
