// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

//go:build integration

package authz_test

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/hallpass/hallpass/internal/authz"
	"github.com/hallpass/hallpass/internal/authz/audit"
	"github.com/hallpass/hallpass/internal/authz/authztest"
	"github.com/hallpass/hallpass/internal/authz/engine"
)

var _ = Describe("Permission engine", func() {
	var (
		ctx    context.Context
		store  *authztest.MemoryGrantStore
		sink   *authztest.MemoryAuditWriter
		logger *audit.Logger
		clock  *authztest.Clock
		eng    *engine.Engine
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = authztest.NewMemoryGrantStore()
		sink = authztest.NewMemoryAuditWriter()
		clock = authztest.NewClock(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
		logger = audit.NewLogger(audit.ModeAll, sink, filepath.Join(GinkgoT().TempDir(), "wal.jsonl"))
		cache := engine.NewDecisionCache(time.Minute, engine.WithCacheClock(clock.Now))
		eng = engine.NewEngine(store, cache, logger, authz.DefaultLevelTable(), engine.WithClock(clock.Now))
	})

	AfterEach(func() {
		Expect(logger.Close()).To(Succeed())
	})

	Describe("grant, check, revoke flow", func() {
		It("walks a grant through its whole lifecycle", func() {
			cc := authz.CheckContext{GuildID: "g1", ChannelID: "c1"}

			By("denying before any grant exists")
			decision, err := eng.Check(ctx, "alice", authz.PermMessageModerate, cc)
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Allowed()).To(BeFalse())
			Expect(decision.Reason).To(Equal(engine.ReasonDefaultDeny))

			By("granting the permission for the channel")
			_, err = eng.Grant(ctx, engine.GrantRequest{
				Subject:    "alice",
				Permission: authz.PermMessageModerate,
				Scope:      authz.ScopeChannel,
				ScopeID:    "c1",
				GrantedBy:  "admin",
			})
			Expect(err).NotTo(HaveOccurred())

			By("allowing immediately after the grant")
			decision, err = eng.Check(ctx, "alice", authz.PermMessageModerate, cc)
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Allowed()).To(BeTrue())
			Expect(decision.Reason).To(Equal(engine.ReasonExplicitGrant))

			By("still denying in a different channel")
			other := authz.CheckContext{GuildID: "g1", ChannelID: "c2"}
			decision, err = eng.Check(ctx, "alice", authz.PermMessageModerate, other)
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Allowed()).To(BeFalse())

			By("revoking the grant")
			deleted, err := eng.Revoke(ctx, "alice", authz.PermMessageModerate, authz.ScopeChannel, "c1", "admin")
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(BeTrue())

			By("denying immediately after the revoke")
			decision, err = eng.Check(ctx, "alice", authz.PermMessageModerate, cc)
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Allowed()).To(BeFalse())
		})
	})

	Describe("time-bounded grants", func() {
		It("stops honoring a grant once its TTL elapses and sweeps it", func() {
			cc := authz.CheckContext{GuildID: "g1"}

			_, err := eng.Grant(ctx, engine.GrantRequest{
				Subject:    "bob",
				Permission: authz.PermMessagePin,
				Scope:      authz.ScopeGuild,
				ScopeID:    "g1",
				GrantedBy:  "admin",
				TTL:        15 * time.Minute,
			})
			Expect(err).NotTo(HaveOccurred())

			decision, err := eng.Check(ctx, "bob", authz.PermMessagePin, cc)
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Allowed()).To(BeTrue())

			clock.Advance(16 * time.Minute)

			decision, err = eng.Check(ctx, "bob", authz.PermMessagePin, cc)
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Allowed()).To(BeFalse())
			Expect(store.Grants()).To(HaveLen(1), "expiry alone must not delete the grant")

			purged, err := eng.CleanupExpired(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(purged).To(Equal(1))
			Expect(store.Grants()).To(BeEmpty())
		})
	})

	Describe("level fallback", func() {
		It("combines explicit grants with the legacy level model", func() {
			store.SetLevel("carol", "g1", authz.LevelModerator)

			decision, err := eng.Check(ctx, "carol", authz.PermMessageModerate, authz.CheckContext{GuildID: "g1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Allowed()).To(BeTrue())
			Expect(decision.Reason).To(Equal("level_3"))

			decision, err = eng.Check(ctx, "carol", authz.PermMemberBan, authz.CheckContext{GuildID: "g1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Allowed()).To(BeFalse())

			_, err = eng.Grant(ctx, engine.GrantRequest{
				Subject:    "carol",
				Permission: authz.PermMemberBan,
				Scope:      authz.ScopeGuild,
				ScopeID:    "g1",
				GrantedBy:  "owner",
			})
			Expect(err).NotTo(HaveOccurred())

			decision, err = eng.Check(ctx, "carol", authz.PermMemberBan, authz.CheckContext{GuildID: "g1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Allowed()).To(BeTrue())
			Expect(decision.Reason).To(Equal(engine.ReasonExplicitGrant))
		})
	})

	Describe("concurrent checks", func() {
		It("returns consistent decisions under parallel load", func() {
			store.SetLevel("dave", "g1", authz.LevelHelper)
			cc := authz.CheckContext{GuildID: "g1"}

			const workers = 16
			const iterations = 50

			var wg sync.WaitGroup
			errs := make(chan error, workers)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					for j := 0; j < iterations; j++ {
						decision, err := eng.Check(ctx, "dave", authz.PermMessagePin, cc)
						if err != nil {
							errs <- err
							return
						}
						Expect(decision.Allowed()).To(BeTrue())
					}
				}()
			}
			wg.Wait()
			close(errs)
			Expect(errs).To(BeEmpty())
		})

		It("keeps working while grants are revoked concurrently", func() {
			cc := authz.CheckContext{GuildID: "g1"}
			_, err := eng.Grant(ctx, engine.GrantRequest{
				Subject:    "erin",
				Permission: authz.PermMessagePin,
				Scope:      authz.ScopeGuild,
				ScopeID:    "g1",
				GrantedBy:  "admin",
			})
			Expect(err).NotTo(HaveOccurred())

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				for i := 0; i < 100; i++ {
					_, checkErr := eng.Check(ctx, "erin", authz.PermMessagePin, cc)
					Expect(checkErr).NotTo(HaveOccurred())
				}
			}()
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, revokeErr := eng.Revoke(ctx, "erin", authz.PermMessagePin, authz.ScopeGuild, "g1", "admin")
				Expect(revokeErr).NotTo(HaveOccurred())
			}()
			wg.Wait()

			decision, err := eng.Check(ctx, "erin", authz.PermMessagePin, cc)
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Allowed()).To(BeFalse())
		})
	})

	Describe("audit trail", func() {
		It("records the full lifecycle in order", func() {
			cc := authz.CheckContext{GuildID: "g1"}

			_, err := eng.Grant(ctx, engine.GrantRequest{
				Subject:    "frank",
				Permission: authz.PermMessagePin,
				Scope:      authz.ScopeGuild,
				ScopeID:    "g1",
				GrantedBy:  "admin",
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = eng.Check(ctx, "frank", authz.PermMessagePin, cc)
			Expect(err).NotTo(HaveOccurred())

			_, err = eng.Revoke(ctx, "frank", authz.PermMessagePin, authz.ScopeGuild, "g1", "admin")
			Expect(err).NotTo(HaveOccurred())

			Expect(logger.Close()).To(Succeed())

			Expect(sink.EventsOfType(audit.TypeGrant)).To(HaveLen(1))
			Expect(sink.EventsOfType(audit.TypeCheck)).To(HaveLen(1))
			Expect(sink.EventsOfType(audit.TypeRevoke)).To(HaveLen(1))
		})
	})
})
