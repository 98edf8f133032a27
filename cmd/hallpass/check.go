// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/hallpass/hallpass/internal/authz"
)

// NewCheckCmd creates the check subcommand for ad-hoc decisions.
func NewCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate a permission check",
		Long: `Evaluate whether a subject may exercise a permission in the given
context and print the decision with its reason code. The check is
audited like any other.`,
		RunE: runCheck,
	}

	f := cmd.Flags()
	f.String("subject", "", "subject (user) id")
	f.String("permission", "", "permission identifier, e.g. message:moderate")
	f.String("guild", "", "guild id")
	f.String("channel", "", "channel id")
	f.String("category", "", "category id")
	f.String("thread", "", "thread id")
	f.String("target-user", "", "target user id")
	f.String("target-role", "", "target role id")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("permission")

	return cmd
}

func runCheck(cmd *cobra.Command, _ []string) error {
	rt, err := setupRuntime(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	str := func(name string) string {
		v, _ := cmd.Flags().GetString(name)
		return v
	}

	cc := authz.CheckContext{
		GuildID:      str("guild"),
		ChannelID:    str("channel"),
		CategoryID:   str("category"),
		ThreadID:     str("thread"),
		TargetUserID: str("target-user"),
		TargetRoleID: str("target-role"),
	}

	decision, err := rt.engine.Check(cmd.Context(), str("subject"), authz.Permission(str("permission")), cc)
	if err != nil {
		return err
	}

	if decision.Allowed() {
		cmd.Printf("allowed (%s)\n", decision.Reason)
	} else {
		cmd.Printf("denied (%s)\n", decision.Reason)
	}
	return nil
}
