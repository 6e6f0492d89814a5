package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
	"github.com/eliteGoblin/focusd/class_mon/internal/infra"
	"github.com/eliteGoblin/focusd/class_mon/internal/usecase"
)

var schedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "Manage class schedules",
}

var schedulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules and the current classification",
	RunE:  withApp(runSchedulesList),
}

var schedulesImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Replace all schedules with a JSON array of schedule records",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runSchedulesImport),
}

var schedulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a schedule",
	RunE:  withApp(runSchedulesAdd),
}

var schedulesRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a schedule by id",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runSchedulesRemove),
}

var allowlistCmd = &cobra.Command{
	Use:   "allowlist [add|remove <package>]",
	Short: "Show or edit the apps allowed during class time",
	Args:  cobra.MaximumNArgs(2),
	RunE:  withApp(runAllowlist),
}

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll the device with the school backend and log in a student",
	RunE:  withApp(runEnroll),
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out the current student",
	RunE:  withApp(runLogout),
}

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Record the granted permissions as the baseline",
	Long: `Probes every capability and records the result as the baseline that
revocation is detected against. Every capability must be granted.`,
	RunE: withApp(runBaseline),
}

var serviceCmd = &cobra.Command{
	Use:       "service <enable|disable>",
	Short:     "Turn class-time blocking on or off",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"enable", "disable"},
	RunE:      withApp(runService),
}

var websyncCmd = &cobra.Command{
	Use:       "websync <enable|disable>",
	Short:     "Turn backend heartbeats and alerts on or off",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"enable", "disable"},
	RunE:      withApp(runWebsync),
}

var checkCmd = &cobra.Command{
	Use:   "check <package>",
	Short: "Show how a package would be classified right now (no side effects)",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runCheck),
}

var (
	addName    string
	addStart   string
	addEnd     string
	addDays    []int
	addRecess  bool
	enrollURL  string
	enrollTok  string
	student    domain.StudentIdentity
	checkClass string
	checkText  []string
)

func init() {
	schedulesAddCmd.Flags().StringVar(&addName, "name", "Class", "Schedule name")
	schedulesAddCmd.Flags().StringVar(&addStart, "start", "", "Start time HH:MM")
	schedulesAddCmd.Flags().StringVar(&addEnd, "end", "", "End time HH:MM")
	schedulesAddCmd.Flags().IntSliceVar(&addDays, "days", domain.DefaultDaysOfWeek, "Days of week (1=Sunday .. 7=Saturday)")
	schedulesAddCmd.Flags().BoolVar(&addRecess, "recess", false, "Mark as recess instead of class time")
	_ = schedulesAddCmd.MarkFlagRequired("start")
	_ = schedulesAddCmd.MarkFlagRequired("end")

	enrollCmd.Flags().StringVar(&enrollURL, "server", "", "Backend URL")
	enrollCmd.Flags().StringVar(&enrollTok, "token", "", "Device token")
	enrollCmd.Flags().StringVar(&student.ID, "student-id", "", "Student id")
	enrollCmd.Flags().StringVar(&student.RUT, "rut", "", "Student RUT")
	enrollCmd.Flags().StringVar(&student.Name, "name", "", "Student name")
	enrollCmd.Flags().StringVar(&student.School, "school", "", "School name")
	enrollCmd.Flags().StringVar(&student.Course, "course", "", "Course")
	_ = enrollCmd.MarkFlagRequired("token")
	_ = enrollCmd.MarkFlagRequired("rut")

	checkCmd.Flags().StringVar(&checkClass, "class", "", "Window class name")
	checkCmd.Flags().StringSliceVar(&checkText, "text", nil, "Visible text on the window")

	schedulesCmd.AddCommand(schedulesListCmd, schedulesImportCmd, schedulesAddCmd, schedulesRemoveCmd)
	rootCmd.AddCommand(schedulesCmd, allowlistCmd, enrollCmd, logoutCmd, baselineCmd,
		serviceCmd, websyncCmd, checkCmd)
}

// withApp opens the app for the duration of one command.
func withApp(run func(a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return run(a, args)
	}
}

func classifyNow(a *app, now time.Time) domain.TimeClassification {
	return usecase.ClassifyTime(now, a.prefs.Schedules())
}

func runSchedulesList(a *app, args []string) error {
	schedules := a.prefs.Schedules()
	if len(schedules) == 0 {
		fmt.Println("No schedules.")
	}
	for _, s := range schedules {
		kind := "class"
		if !s.IsClassTime {
			kind = "recess"
		}
		state := "on"
		if !s.Enabled {
			state = "off"
		}
		fmt.Printf("%4d  %-20s %s-%s  %-6s %-3s days=%v\n", s.ID, s.Name,
			domain.FormatClock(s.StartMinutes()), domain.FormatClock(s.EndMinutes()),
			kind, state, s.DaysOfWeek)
	}

	tc := classifyNow(a, a.clock.Now())
	fmt.Printf("\nNow: %s", tc.Status)
	if label := tc.NextUnblockLabel(); label != "" {
		fmt.Printf(", next unblock %s", label)
	}
	fmt.Println()
	return nil
}

func runSchedulesImport(a *app, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	records, skipped, err := usecase.DecodeScheduleRecords(data)
	if err != nil {
		return err
	}
	schedules, dropped := usecase.IngestSchedules(records, a.clock.Now())
	for _, d := range append(skipped, dropped...) {
		fmt.Printf("skipped record %d: %v\n", d.Index, d.Err)
	}
	if err := a.prefs.SaveSchedules(schedules); err != nil {
		return err
	}
	fmt.Printf("Imported %d schedules.\n", len(schedules))
	return nil
}

func runSchedulesAdd(a *app, args []string) error {
	sh, sm, err := parseClock(addStart)
	if err != nil {
		return err
	}
	eh, em, err := parseClock(addEnd)
	if err != nil {
		return err
	}
	current := a.prefs.Schedules()
	s := domain.Schedule{
		ID:          nextScheduleID(current),
		Name:        addName,
		StartHour:   sh,
		StartMinute: sm,
		EndHour:     eh,
		EndMinute:   em,
		DaysOfWeek:  addDays,
		Enabled:     true,
		IsClassTime: !addRecess,
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if err := a.prefs.SaveSchedules(usecase.AddSchedule(current, s)); err != nil {
		return err
	}
	fmt.Printf("Added schedule %d.\n", s.ID)
	return nil
}

func runSchedulesRemove(a *app, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid schedule id %q", args[0])
	}
	current := a.prefs.Schedules()
	next := usecase.RemoveSchedule(current, id)
	if len(next) == len(current) {
		return fmt.Errorf("no schedule with id %d", id)
	}
	if err := a.prefs.SaveSchedules(next); err != nil {
		return err
	}
	fmt.Printf("Removed schedule %d.\n", id)
	return nil
}

func runAllowlist(a *app, args []string) error {
	apps := a.prefs.AllowList()
	if len(args) == 0 {
		sort.Strings(apps)
		for _, pkg := range apps {
			fmt.Println(pkg)
		}
		return nil
	}
	if len(args) != 2 {
		return fmt.Errorf("usage: allowlist [add|remove <package>]")
	}

	pkg := strings.TrimSpace(args[1])
	switch args[0] {
	case "add":
		apps = append(apps, pkg)
	case "remove":
		if a.table.IsSelf(pkg) {
			return fmt.Errorf("%s cannot be removed", pkg)
		}
		kept := apps[:0]
		for _, p := range apps {
			if !strings.EqualFold(p, pkg) {
				kept = append(kept, p)
			}
		}
		apps = kept
	default:
		return fmt.Errorf("unknown action %q", args[0])
	}
	return a.prefs.SaveAllowList(apps)
}

func runEnroll(a *app, args []string) error {
	server := enrollURL
	if server == "" {
		server = a.cfg.ServerURL
	}
	if server == "" {
		return fmt.Errorf("--server is required when no server_url is configured")
	}
	// Enrollment works offline; heartbeats retry until the backend answers.
	ctx, cancel := context.WithTimeout(context.Background(), backendCheckTimeout)
	err := infra.NewHTTPSyncClient(server).Health(ctx)
	cancel()
	if err != nil {
		fmt.Printf("Warning: backend %s is unreachable (%v).\n", server, err)
	}
	if err := a.prefs.SaveEnrollment(server, enrollTok); err != nil {
		return err
	}
	if err := a.prefs.SaveStudent(student); err != nil {
		return err
	}
	deviceID, err := a.prefs.DeviceID()
	if err != nil {
		return err
	}
	if err := a.prefs.SetWebSyncEnabled(true); err != nil {
		return err
	}
	fmt.Printf("Enrolled device %s with %s as %s.\n", deviceID, server, student.RUT)
	fmt.Println("Restart the daemons to pick up the new server.")
	return nil
}

func runLogout(a *app, args []string) error {
	if !a.prefs.StudentLoggedIn() {
		fmt.Println("No student logged in.")
		return nil
	}
	if err := a.prefs.ClearStudent(); err != nil {
		return err
	}
	fmt.Println("Student logged out.")
	return nil
}

func runBaseline(a *app, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	v, err := a.monitor.CaptureBaseline(ctx)
	for _, c := range domain.AllCapabilities {
		fmt.Printf("  %-24s %t\n", c.Label(), v.Get(c))
	}
	if errors.Is(err, domain.ErrLockdownActive) || usecase.IsBaselineError(err) {
		return fmt.Errorf("baseline not recorded: %w", err)
	}
	if err != nil {
		return err
	}
	fmt.Println("Baseline recorded.")
	return nil
}

func runService(a *app, args []string) error {
	enabled := args[0] == "enable"
	if err := a.prefs.SetServiceEnabled(enabled); err != nil {
		return err
	}
	fmt.Printf("Service enabled: %t\n", enabled)
	return nil
}

func runWebsync(a *app, args []string) error {
	enabled := args[0] == "enable"
	if enabled && a.prefs.DeviceToken() == "" {
		return fmt.Errorf("device is not enrolled, run 'classmon enroll' first")
	}
	if err := a.prefs.SetWebSyncEnabled(enabled); err != nil {
		return err
	}
	fmt.Printf("Web sync enabled: %t\n", enabled)
	return nil
}

func runCheck(a *app, args []string) error {
	now := a.clock.Now()
	ev := domain.WindowEvent{Package: args[0], ClassName: checkClass, Text: checkText, At: now}
	eff := a.classifier.Explain(ev, now)

	fmt.Printf("%s: %s (%s)\n", ev.Package, eff.Verdict, eff.Reason)
	if eff.Overlay != domain.OverlayNone {
		fmt.Printf("  overlay: %s\n", eff.Overlay)
	}
	if eff.Alert != "" {
		fmt.Printf("  alert: %s (would start a temporary lockdown)\n", eff.Alert)
	}
	return nil
}

func parseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

func nextScheduleID(schedules []domain.Schedule) int64 {
	var max int64
	for _, s := range schedules {
		if s.ID > max {
			max = s.ID
		}
	}
	return max + 1
}
