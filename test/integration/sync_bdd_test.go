//go:build integration

package integration

import (
	"context"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
	"github.com/eliteGoblin/focusd/class_mon/internal/infra"
	"github.com/eliteGoblin/focusd/class_mon/internal/usecase"
	"github.com/eliteGoblin/focusd/class_mon/test/fixtures"
)

var _ = Describe("Backend sync", func() {
	var (
		dataDir string
		device  *fixtures.Device
		backend *fixtures.FakeBackend
		syncer  *usecase.Syncer
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		dataDir, err = os.MkdirTemp("", "classmon-sync-*")
		Expect(err).NotTo(HaveOccurred())
		key, err := infra.GenerateKey()
		Expect(err).NotTo(HaveOccurred())
		device, err = fixtures.OpenDevice(dataDir, key, monday0900)
		Expect(err).NotTo(HaveOccurred())
		device.AttachPastGrace()

		backend = fixtures.NewFakeBackend("device-token")
		Expect(device.Prefs.SaveEnrollment(backend.URL, "device-token")).To(Succeed())
		Expect(device.Prefs.SetWebSyncEnabled(true)).To(Succeed())

		syncer = usecase.NewSyncer(infra.NewHTTPSyncClient(backend.URL), device.Prefs, device.Monitor, device.Machine,
			device.Merger, nil, device.Clock, usecase.DefaultSyncConfig(), zap.NewNop())
	})

	AfterEach(func() {
		backend.Close()
		device.Close()
		os.RemoveAll(dataDir)
	})

	It("should report device state in the heartbeat", func() {
		Expect(syncer.Enabled()).To(BeTrue())

		_, err := syncer.Heartbeat(ctx)
		Expect(err).NotTo(HaveOccurred())

		beats := backend.Heartbeats()
		Expect(beats).To(HaveLen(1))
		deviceID, err := device.Prefs.DeviceID()
		Expect(err).NotTo(HaveOccurred())
		Expect(beats[0].DeviceID).To(Equal(deviceID))
		Expect(beats[0].Timestamp).To(Equal(device.Clock.Now().UnixMilli()))
		Expect(beats[0].IsLockdownMode).To(BeFalse())
		Expect(beats[0].BatteryLevel).To(Equal(-1))
	})

	It("should apply and acknowledge remote commands", func() {
		backend.Queue(
			domain.Command{ID: "c1", Type: domain.CmdLockdown, Data: map[string]any{"reason": "exam"}},
			domain.Command{ID: "c2", Type: domain.CmdUpdateAllowedApps, Data: map[string]any{"apps": []any{"org.wikipedia"}}},
		)

		applied, err := syncer.Heartbeat(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(applied).To(HaveLen(2))
		Expect(backend.Acked()).To(ConsistOf("c1", "c2"))

		state := device.Machine.State()
		Expect(state.Mode).To(Equal(domain.LockdownPermanent))
		Expect(state.Origin).To(Equal(domain.OriginRemote))
		Expect(state.Reason).To(Equal("exam"))
		Expect(device.Prefs.IsAllowed("org.wikipedia")).To(BeTrue())

		backend.Queue(domain.Command{ID: "c3", Type: domain.CmdUnlock})
		_, err = syncer.Heartbeat(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(device.Machine.State().Mode).To(Equal(domain.LockdownNormal))
		Expect(backend.Heartbeats()[1].IsLockdownMode).To(BeTrue())
	})

	It("should deliver queued alerts and shorten the heartbeat cadence", func() {
		Expect(device.Login()).To(Succeed())
		device.Enforcer.HandleEvent(device.Event(permCtl, ""))

		var alert usecase.AlertRequest
		Eventually(device.Enforcer.Alerts()).Should(Receive(&alert))
		Expect(syncer.SendAlert(ctx, alert.Type, alert.Details)).To(Succeed())

		Expect(backend.Alerts()).To(HaveLen(1))
		Expect(backend.Alerts()[0].EventType).To(Equal(domain.AlertPermissionTamper))
		Expect(syncer.Interval()).To(Equal(10 * time.Second))

		_, err := syncer.Heartbeat(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(syncer.Interval()).To(Equal(30 * time.Second))
	})

	It("should fail on a rejected token", func() {
		Expect(device.Prefs.SaveEnrollment(backend.URL, "stale")).To(Succeed())

		_, err := syncer.Heartbeat(ctx)

		Expect(err).To(HaveOccurred())
		Expect(backend.Heartbeats()).To(BeEmpty())
	})
})
