/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package version

import (
	"fmt"
	"runtime"

	"github.com/hyperledger/fabric-chaincode-cid/common/metadata"
	"github.com/spf13/cobra"
)

const ProgramName = "abac"

func Cmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print abac chaincode version.",
		Long:  `Print current version of the abac chaincode.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("trailing args detected")
			}
			cmd.SilenceUsage = true
			fmt.Fprint(cmd.OutOrStdout(), GetInfo())
			return nil
		},
	}
}

// GetInfo returns version information for the abac chaincode.
func GetInfo() string {
	return fmt.Sprintf("%s:\n Version: %s\n Commit SHA: %s\n Go version: %s\n OS/Arch: %s\n",
		ProgramName, metadata.Version, metadata.CommitSHA, runtime.Version(),
		fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH))
}
