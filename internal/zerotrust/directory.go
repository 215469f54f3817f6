package zerotrust

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/go-ldap/ldap/v3"

	"github.com/secops-platform/secops-core/pkg/logger"
)

// StaticProfiles is the in-memory ProfileProvider used when no
// directory is configured. Unknown users get the default profile.
type StaticProfiles struct {
	mu      sync.RWMutex
	users   map[string]*UserProfile
	devices map[string]*DeviceProfile
}

func NewStaticProfiles() *StaticProfiles {
	return &StaticProfiles{
		users:   make(map[string]*UserProfile),
		devices: make(map[string]*DeviceProfile),
	}
}

func (s *StaticProfiles) PutUser(p *UserProfile) {
	s.mu.Lock()
	s.users[p.UserID] = p
	s.mu.Unlock()
}

func (s *StaticProfiles) PutDevice(p *DeviceProfile) {
	s.mu.Lock()
	s.devices[p.DeviceID] = p
	s.mu.Unlock()
}

func (s *StaticProfiles) UserProfile(_ context.Context, userID string) (*UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.users[userID]; ok {
		return p, nil
	}
	return defaultUserProfile(userID), nil
}

func (s *StaticProfiles) DeviceProfile(_ context.Context, deviceID string) (*DeviceProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devices[deviceID], nil
}

// LDAPConfig configures the directory-backed profile provider.
type LDAPConfig struct {
	URL          string
	BindDN       string
	BindPassword string
	BaseDN       string
}

// LDAPProfiles resolves user posture from a corporate directory and
// falls back to static profiles when lookups fail.
type LDAPProfiles struct {
	cfg      LDAPConfig
	fallback *StaticProfiles
	log      *logger.Logger
}

func NewLDAPProfiles(cfg LDAPConfig, fallback *StaticProfiles, log *logger.Logger) *LDAPProfiles {
	if fallback == nil {
		fallback = NewStaticProfiles()
	}
	return &LDAPProfiles{cfg: cfg, fallback: fallback, log: log.WithComponent("ldap-directory")}
}

func (l *LDAPProfiles) UserProfile(ctx context.Context, userID string) (*UserProfile, error) {
	profile, err := l.lookup(userID)
	if err != nil {
		l.log.Warn("directory lookup failed, using fallback profile",
			"user_id", userID, "error", err)
		return l.fallback.UserProfile(ctx, userID)
	}
	return profile, nil
}

func (l *LDAPProfiles) DeviceProfile(ctx context.Context, deviceID string) (*DeviceProfile, error) {
	// Device inventory is not held in the directory.
	return l.fallback.DeviceProfile(ctx, deviceID)
}

func (l *LDAPProfiles) lookup(userID string) (*UserProfile, error) {
	conn, err := ldap.DialURL(l.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial directory: %w", err)
	}
	defer conn.Close()

	if l.cfg.BindDN != "" {
		if err := conn.Bind(l.cfg.BindDN, l.cfg.BindPassword); err != nil {
			return nil, fmt.Errorf("bind: %w", err)
		}
	}

	req := ldap.NewSearchRequest(
		l.cfg.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, 5, false,
		fmt.Sprintf("(&(objectClass=person)(uid=%s))", ldap.EscapeFilter(userID)),
		[]string{"uid", "employeeType", "mfaEnrolled", "securityTrainingCompleted", "recentIncidentCount"},
		nil,
	)
	res, err := conn.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(res.Entries) == 0 {
		return nil, fmt.Errorf("user %s not found", userID)
	}

	entry := res.Entries[0]
	profile := defaultUserProfile(userID)
	profile.Role = entry.GetAttributeValue("employeeType")
	profile.MFAEnrolled = entry.GetAttributeValue("mfaEnrolled") == "TRUE"
	profile.SecurityTraining = entry.GetAttributeValue("securityTrainingCompleted") == "TRUE"
	if n, err := strconv.Atoi(entry.GetAttributeValue("recentIncidentCount")); err == nil {
		profile.RecentIncidents = n
	}
	return profile, nil
}
