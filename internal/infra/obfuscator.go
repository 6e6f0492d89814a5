package infra

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
)

// Name stems that read like ordinary host services in a process list.
var serviceStems = []string{
	"sysmond",
	"netcfgd",
	"powerd",
	"inputd",
	"displayd",
	"storaged",
}

var roleSuffixes = map[domain.DaemonRole][]string{
	domain.RoleSupervisor: {"worker", "agent", "service"},
	domain.RoleGuardian:   {"helper", "monitor", "xpc"},
}

// DaemonNamer produces the --name a daemon is started under.
type DaemonNamer struct{}

// NewDaemonNamer creates a namer.
func NewDaemonNamer() *DaemonNamer {
	return &DaemonNamer{}
}

// GenerateName returns a random service-like name for role, for example
// powerd.helper.a1b2c3.
func (DaemonNamer) GenerateName(role domain.DaemonRole) string {
	suffixes, ok := roleSuffixes[role]
	if !ok {
		suffixes = roleSuffixes[domain.RoleSupervisor]
	}
	stem := serviceStems[randomInt(len(serviceStems))]
	suffix := suffixes[randomInt(len(suffixes))]
	return fmt.Sprintf("%s.%s.%s", stem, suffix, generateRandomHex(6))
}

// randomInt returns a cryptographically random int in [0, max).
func randomInt(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0
	}
	return int(n.Int64())
}

func generateRandomHex(length int) string {
	buf := make([]byte, length/2+1)
	if _, err := rand.Read(buf); err != nil {
		return "000000"
	}
	return hex.EncodeToString(buf)[:length]
}
