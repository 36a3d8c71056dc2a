// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

//go:build integration

package access_test

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/tripwarden/tripwarden/internal/access"
	"github.com/tripwarden/tripwarden/internal/audit"
)

var _ = Describe("Resolver against PostgreSQL", func() {
	var (
		auditLog *audit.Logger
		resolver *access.Resolver
		tripID   string
	)

	BeforeEach(func() {
		cfg := audit.DefaultConfig()
		dir := GinkgoT().TempDir()
		cfg.Dir = dir
		cfg.SpillPath = tempSpill(GinkgoT().TempDir())
		cfg.Secret = "integration-secret"
		cfg.FlushInterval = time.Hour
		cfg.RetentionDays = 0

		var err error
		auditLog, err = audit.NewLogger(cfg, audit.WithSlog(discardLogger()))
		Expect(err).NotTo(HaveOccurred())
		Expect(auditLog.Start(env.ctx)).To(Succeed())

		resolver = access.NewResolver(env.trips, auditLog, access.WithLogger(discardLogger()))

		tripID = "trip-" + ulid.Make().String()
		Expect(env.trips.CreateTrip(env.ctx,
			access.Resource{ID: tripID, OwnerID: "user-A", Visibility: access.VisibilityPrivate}, "Kyoto")).To(Succeed())
		Expect(env.trips.UpsertCollaborator(env.ctx, access.CollaboratorGrant{
			ResourceID: tripID, SubjectID: "user-B", Permission: "edit", InvitedBy: "user-A", Status: access.GrantAccepted,
		})).To(Succeed())
	})

	AfterEach(func() {
		Expect(auditLog.Stop(env.ctx)).To(Succeed())
	})

	storedEvents := func() []audit.Event {
		Expect(auditLog.Flush(env.ctx)).To(Succeed())
		events, err := auditLog.QueryEvents(env.ctx, audit.Filter{}, 1000)
		Expect(err).NotTo(HaveOccurred())
		return events
	}

	resolve := func(subject string, opts ...access.ContextOption) (access.AccessDecision, error) {
		actx, err := access.NewAccessContext(tripID, subject, opts...)
		Expect(err).NotTo(HaveOccurred())
		return resolver.Resolve(env.ctx, actx)
	}

	It("grants an accepted editor collaborator access", func() {
		d, err := resolve("user-B",
			access.RequireLevel(access.LevelCollaborator),
			access.RequirePermission(access.PermissionEdit))
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Authorized()).To(BeTrue())
		Expect(d.PermissionGranted).To(Equal(access.PermissionEdit))
		Expect(d.IsOwner).To(BeFalse())
		Expect(d.IsCollaborator).To(BeTrue())

		events := storedEvents()
		Expect(events).To(HaveLen(1))
		Expect(events[0].Type).To(Equal(audit.EventAccessGranted))
		Expect(auditLog.Verify(&events[0])).To(BeTrue())
	})

	It("denies a stranger on a private trip with one medium event", func() {
		d, err := resolve("user-C", access.RequireLevel(access.LevelRead))
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Authorized()).To(BeFalse())
		Expect(d.DenialReason).NotTo(BeEmpty())

		events := storedEvents()
		Expect(events).To(HaveLen(1))
		Expect(events[0].Severity).To(Equal(audit.SeverityMedium))
	})

	It("reports a missing trip as not found without an event", func() {
		actx, err := access.NewAccessContext("trip-missing", "user-A")
		Expect(err).NotTo(HaveOccurred())

		_, err = resolver.Resolve(env.ctx, actx)
		Expect(err).To(MatchError(access.ErrResourceNotFound))
		Expect(storedEvents()).To(BeEmpty())
	})

	It("treats an unknown stored permission as view", func() {
		Expect(env.trips.UpsertCollaborator(env.ctx, access.CollaboratorGrant{
			ResourceID: tripID, SubjectID: "user-D", Permission: "superuser", Status: access.GrantAccepted,
		})).To(Succeed())

		d, err := resolve("user-D", access.RequirePermission(access.PermissionEdit))
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Authorized()).To(BeFalse())
	})

	It("records exactly one event per concurrent decision", func() {
		const workers = 20
		var wg sync.WaitGroup
		for i := range workers {
			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()
				subject := "user-B"
				if i%2 == 1 {
					subject = "user-C"
				}
				actx, err := access.NewAccessContext(tripID, subject)
				Expect(err).NotTo(HaveOccurred())
				_, err = resolver.Resolve(context.Background(), actx)
				Expect(err).NotTo(HaveOccurred())
			}(i)
		}
		wg.Wait()

		events := storedEvents()
		Expect(events).To(HaveLen(workers))
		granted := 0
		for _, ev := range events {
			if ev.Type == audit.EventAccessGranted {
				granted++
			}
		}
		Expect(granted).To(Equal(workers / 2))
	})
})
