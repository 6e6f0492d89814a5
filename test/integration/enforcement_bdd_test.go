//go:build integration

package integration

import (
	"context"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
	"github.com/eliteGoblin/focusd/class_mon/internal/infra"
	"github.com/eliteGoblin/focusd/class_mon/internal/usecase"
	"github.com/eliteGoblin/focusd/class_mon/test/fixtures"
)

const (
	game       = "com.roblox.client"
	calculator = "com.android.calculator2"
	launcher   = "com.android.launcher3"
	settings   = "com.android.settings"
	permCtl    = "com.android.permissioncontroller"
)

// monday0900 is a Monday at 09:00 local time.
var monday0900 = time.Date(2024, time.March, 4, 9, 0, 0, 0, time.Local)

var _ = Describe("Enforcement over the encrypted store", func() {
	var (
		dataDir string
		key     []byte
		device  *fixtures.Device
		ctx     context.Context
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		dataDir, err = os.MkdirTemp("", "classmon-integration-*")
		Expect(err).NotTo(HaveOccurred())
		key, err = infra.GenerateKey()
		Expect(err).NotTo(HaveOccurred())

		device, err = fixtures.OpenDevice(dataDir, key, monday0900)
		Expect(err).NotTo(HaveOccurred())
		Expect(device.SchoolDay()).To(Succeed())
		device.AttachPastGrace()
	})

	AfterEach(func() {
		if device != nil {
			device.Close()
		}
		os.RemoveAll(dataDir)
	})

	reopen := func() {
		now := device.Clock.Now()
		Expect(device.Close()).To(Succeed())
		var err error
		device, err = fixtures.OpenDevice(dataDir, key, now)
		Expect(err).NotTo(HaveOccurred())
		device.AttachPastGrace()
	}

	Describe("class time", func() {
		It("should block apps that are not allow-listed", func() {
			result := device.Enforcer.HandleEvent(device.Event(game, "MainActivity"))

			Expect(result.Effect.Blocked()).To(BeTrue())
			Expect(result.Effect.Overlay).To(Equal(domain.OverlayBlocker))
			Expect(device.Presenter.Shown()).To(HaveLen(1))
		})

		It("should allow default allow-listed apps", func() {
			result := device.Enforcer.HandleEvent(device.Event(calculator, ""))

			Expect(result.Effect.Blocked()).To(BeFalse())
			Expect(device.Presenter.Shown()).To(BeEmpty())
		})

		Context("during recess", func() {
			It("should allow everything", func() {
				device.Clock.Advance(65 * time.Minute)

				result := device.Enforcer.HandleEvent(device.Event(game, ""))

				Expect(result.Effect.Blocked()).To(BeFalse())
			})
		})
	})

	Describe("permission revocation", func() {
		BeforeEach(func() {
			_, err := device.Monitor.CaptureBaseline(ctx)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should enter a permanent lockdown that survives a restart", func() {
			device.Prober.Set(fixtures.AllGranted.With(domain.CapAccessibility, false))

			result, err := device.Enforcer.CheckPermissions(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Poll.Outcome).To(Equal(usecase.PollRevoked))
			Expect(result.Alerts).To(ConsistOf(domain.AlertPermissionRevoked, domain.AlertLockdownActivated))

			reopen()
			state := device.Machine.State()
			Expect(state.Mode).To(Equal(domain.LockdownPermanent))
			Expect(state.Origin).To(Equal(domain.OriginPermission))

			Expect(device.Enforcer.HandleEvent(device.Event(calculator, "")).Effect.Blocked()).To(BeTrue())
			Expect(device.Enforcer.HandleEvent(device.Event(settings, "")).Effect.Blocked()).To(BeFalse())
		})

		It("should lift the lockdown once permissions are restored", func() {
			device.Prober.Set(fixtures.AllGranted.With(domain.CapOverlay, false))
			_, err := device.Enforcer.CheckPermissions(ctx)
			Expect(err).NotTo(HaveOccurred())

			device.Prober.Set(fixtures.AllGranted)
			result, err := device.Enforcer.CheckPermissions(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Poll.Outcome).To(Equal(usecase.PollRestored))
			Expect(device.Machine.State().Mode).To(Equal(domain.LockdownNormal))
		})
	})

	Describe("tamper escalation", func() {
		BeforeEach(func() {
			Expect(device.Login()).To(Succeed())
		})

		It("should lengthen the temporary lockdown on repeated violations", func() {
			result := device.Enforcer.HandleEvent(device.Event(permCtl, ""))
			Expect(result.Alerts).To(ConsistOf(domain.AlertPermissionTamper))
			first := device.Machine.State()
			Expect(first.Mode).To(Equal(domain.LockdownTemporary))
			Expect(first.Remaining(device.Clock.Now())).To(Equal(20 * time.Second))

			device.Clock.Advance(25 * time.Second)
			device.Enforcer.HandleEvent(device.Event(launcher, ""))
			Expect(device.Machine.State().Mode).To(Equal(domain.LockdownNormal))

			device.Enforcer.HandleEvent(device.Event(permCtl, ""))
			reopen()
			second := device.Machine.State()
			Expect(second.PenaltyCount).To(Equal(2))
			Expect(second.Remaining(device.Clock.Now())).To(Equal(40 * time.Second))
		})
	})
})
