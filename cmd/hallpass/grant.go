// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/hallpass/hallpass/internal/authz"
	"github.com/hallpass/hallpass/internal/authz/engine"
)

// NewGrantCmd creates the grant subcommand.
func NewGrantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Create an explicit permission grant",
		RunE:  runGrant,
	}

	f := cmd.Flags()
	f.String("subject", "", "subject (user) id")
	f.String("permission", "", "permission identifier")
	f.String("scope", "global", "scope: global, guild, channel, category, or thread")
	f.String("scope-id", "", "id of the guild/channel/category/thread (omit for global)")
	f.String("granted-by", "", "grantor id")
	f.Duration("ttl", 0, "grant lifetime; 0 means no expiry")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("permission")
	_ = cmd.MarkFlagRequired("granted-by")

	return cmd
}

func runGrant(cmd *cobra.Command, _ []string) error {
	rt, err := setupRuntime(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	scopeStr, _ := cmd.Flags().GetString("scope")
	scope, err := authz.ParseScope(scopeStr)
	if err != nil {
		return err
	}

	subject, _ := cmd.Flags().GetString("subject")
	permission, _ := cmd.Flags().GetString("permission")
	scopeID, _ := cmd.Flags().GetString("scope-id")
	grantedBy, _ := cmd.Flags().GetString("granted-by")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	grant, err := rt.engine.Grant(cmd.Context(), engine.GrantRequest{
		Subject:    subject,
		Permission: authz.Permission(permission),
		Scope:      scope,
		ScopeID:    scopeID,
		GrantedBy:  grantedBy,
		TTL:        ttl,
	})
	if err != nil {
		return err
	}

	if grant.ExpiresAt != nil {
		cmd.Printf("Granted %s to %s (id %s, expires %s)\n",
			grant.Permission, grant.Subject, grant.ID, grant.ExpiresAt.Format(time.RFC3339))
	} else {
		cmd.Printf("Granted %s to %s (id %s, no expiry)\n", grant.Permission, grant.Subject, grant.ID)
	}
	return nil
}

// NewRevokeCmd creates the revoke subcommand.
func NewRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke an explicit permission grant",
		RunE:  runRevoke,
	}

	f := cmd.Flags()
	f.String("subject", "", "subject (user) id")
	f.String("permission", "", "permission identifier")
	f.String("scope", "global", "scope: global, guild, channel, category, or thread")
	f.String("scope-id", "", "id of the guild/channel/category/thread (omit for global)")
	f.String("revoked-by", "", "revoker id")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("permission")
	_ = cmd.MarkFlagRequired("revoked-by")

	return cmd
}

func runRevoke(cmd *cobra.Command, _ []string) error {
	rt, err := setupRuntime(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	scopeStr, _ := cmd.Flags().GetString("scope")
	scope, err := authz.ParseScope(scopeStr)
	if err != nil {
		return err
	}

	subject, _ := cmd.Flags().GetString("subject")
	permission, _ := cmd.Flags().GetString("permission")
	scopeID, _ := cmd.Flags().GetString("scope-id")
	revokedBy, _ := cmd.Flags().GetString("revoked-by")

	deleted, err := rt.engine.Revoke(cmd.Context(), subject, authz.Permission(permission), scope, scopeID, revokedBy)
	if err != nil {
		return err
	}

	if deleted {
		cmd.Println("Grant revoked")
	} else {
		cmd.Println("No matching grant found")
	}
	return nil
}
