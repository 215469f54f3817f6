package playbook

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/secops-platform/secops-core/internal/model"
	"github.com/secops-platform/secops-core/pkg/logger"
)

// Store holds the loaded playbook definitions. Definitions are read-only
// after loading.
type Store struct {
	mu        sync.RWMutex
	playbooks map[string]*Playbook
	logger    *logger.Logger
}

// NewStore creates a store seeded with the built-in playbooks.
func NewStore(log *logger.Logger) *Store {
	s := &Store{
		playbooks: make(map[string]*Playbook),
		logger:    log.WithComponent("playbook_store"),
	}
	for _, pb := range builtinPlaybooks() {
		s.playbooks[pb.ID] = pb
	}
	return s
}

// LoadDir reads every .yaml/.yml playbook definition in dir, replacing
// built-ins with the same ID. A missing directory is not an error.
func (s *Store) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("playbook directory absent, using built-ins", "dir", dir)
			return nil
		}
		return fmt.Errorf("read playbook dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		pb, err := loadFile(path)
		if err != nil {
			return fmt.Errorf("load playbook %s: %w", path, err)
		}

		s.mu.Lock()
		s.playbooks[pb.ID] = pb
		s.mu.Unlock()
		loaded++
	}

	s.logger.Info("playbooks loaded", "from_files", loaded, "total", s.Len())
	return nil
}

func loadFile(path string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pb Playbook
	if err := yaml.Unmarshal(data, &pb); err != nil {
		return nil, err
	}
	if err := pb.Validate(); err != nil {
		return nil, err
	}
	return &pb, nil
}

// Add validates and registers a playbook, replacing any existing
// definition with the same ID.
func (s *Store) Add(pb *Playbook) error {
	if err := pb.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playbooks[pb.ID] = pb
	return nil
}

// Get returns a playbook by ID.
func (s *Store) Get(id string) (*Playbook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pb, ok := s.playbooks[id]
	return pb, ok
}

// All returns every stored playbook.
func (s *Store) All() []*Playbook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Playbook, 0, len(s.playbooks))
	for _, pb := range s.playbooks {
		out = append(out, pb)
	}
	return out
}

// Len returns the number of stored playbooks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.playbooks)
}

// FindMatching returns the enabled playbooks whose triggers all hold for
// the event, sorted ascending by priority (most urgent first).
func (s *Store) FindMatching(event *model.SecurityEvent) []*Playbook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Playbook
	for _, pb := range s.playbooks {
		if pb.Matches(event) {
			matched = append(matched, pb)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority < matched[j].Priority
		}
		return matched[i].ID < matched[j].ID
	})
	return matched
}

// builtinPlaybooks is the default response library, active when no
// playbook directory is configured.
func builtinPlaybooks() []*Playbook {
	return []*Playbook{
		{
			ID:             "malware-response",
			Name:           "Malware Response",
			Description:    "Contain and eradicate detected malware",
			Priority:       1,
			Enabled:        true,
			ComplianceTags: []string{"nist", "iso27001"},
			Triggers: []Trigger{
				{Type: TriggerEventType, Value: "malware_detection"},
				{Type: TriggerSeverityMin, Value: "medium"},
			},
			Steps: []StepDef{
				{
					ID: "isolate-host", Name: "Isolate Host", Type: StepContainment,
					Automated: true, Action: "isolate_host",
					Params:  map[string]string{"host": "{{context.hostname}}"},
					Timeout: Duration(60 * time.Second), Retries: 2,
				},
				{
					ID: "quarantine-file", Name: "Quarantine File", Type: StepEradication,
					Automated: true, Action: "quarantine_file",
					Params:  map[string]string{"hash": "{{indicators[0]}}"},
					Timeout: Duration(30 * time.Second), Retries: 1, OnFailure: FailureContinue,
				},
				{
					ID: "collect-forensics", Name: "Collect Forensics", Type: StepInvestigation,
					Automated: true, Action: "collect_forensics",
					Params:  map[string]string{"host": "{{context.hostname}}", "event": "{{id}}"},
					Timeout: Duration(120 * time.Second), OnFailure: FailureContinue,
				},
				{
					ID: "notify-soc", Name: "Notify SOC", Type: StepNotification,
					Automated: true, Action: "send_notification",
					Params: map[string]string{
						"channel": "slack",
						"message": "Malware contained on {{context.hostname}} ({{severity}})",
					},
					Timeout: Duration(15 * time.Second), OnFailure: FailureContinue,
				},
			},
		},
		{
			ID:          "network-intrusion-response",
			Name:        "Network Intrusion Response",
			Description: "Block and investigate network intrusions",
			Priority:    2,
			Enabled:     true,
			Triggers: []Trigger{
				{Type: TriggerEventType, Value: "network_intrusion"},
				{Type: TriggerSeverityMin, Value: "medium"},
			},
			Steps: []StepDef{
				{
					ID: "block-source", Name: "Block Source IP", Type: StepContainment,
					Automated: true, Action: "block_ip",
					Params:  map[string]string{"ip": "{{context.source_ip}}"},
					Timeout: Duration(30 * time.Second), Retries: 2,
				},
				{
					ID: "capture-traffic", Name: "Capture Traffic", Type: StepInvestigation,
					Automated: true, Action: "collect_forensics",
					Params:  map[string]string{"target": "{{context.source_ip}}"},
					Timeout: Duration(120 * time.Second), OnFailure: FailureContinue,
				},
				{
					ID: "review-block", Name: "Review Block Scope", Type: StepRecovery,
					Automated: false,
				},
			},
		},
		{
			ID:          "phishing-response",
			Name:        "Phishing Response",
			Description: "Quarantine phishing mail and block senders",
			Priority:    3,
			Enabled:     true,
			Triggers: []Trigger{
				{Type: TriggerEventType, Value: "phishing_detected"},
			},
			Steps: []StepDef{
				{
					ID: "quarantine-email", Name: "Quarantine Email", Type: StepContainment,
					Automated: true, Action: "quarantine_email",
					Params:  map[string]string{"message_id": "{{context.message_id}}"},
					Timeout: Duration(30 * time.Second), Retries: 1,
				},
				{
					ID: "block-sender", Name: "Block Sender", Type: StepEradication,
					Automated: true, Action: "block_sender",
					Params:  map[string]string{"sender": "{{context.sender}}"},
					Timeout: Duration(30 * time.Second), OnFailure: FailureContinue,
				},
				{
					ID: "notify-users", Name: "Notify Affected Users", Type: StepNotification,
					Automated: true, Action: "send_notification",
					Params: map[string]string{
						"channel": "email",
						"message": "Phishing campaign blocked: {{context.subject}}",
					},
					OnFailure: FailureContinue,
				},
			},
		},
		{
			ID:          "privilege-escalation-response",
			Name:        "Privilege Escalation Response",
			Description: "Contain compromised accounts",
			Priority:    1,
			Enabled:     true,
			Triggers: []Trigger{
				{Type: TriggerEventType, Value: "privilege_escalation"},
				{Type: TriggerSeverityMin, Value: "high"},
			},
			Steps: []StepDef{
				{
					ID: "disable-account", Name: "Disable Account", Type: StepContainment,
					Automated: true, Action: "disable_account",
					Params:  map[string]string{"user": "{{context.username}}"},
					Timeout: Duration(30 * time.Second), Retries: 2,
				},
				{
					ID: "terminate-sessions", Name: "Terminate Sessions", Type: StepContainment,
					Automated: true, Action: "terminate_sessions",
					Params:  map[string]string{"user": "{{context.username}}"},
					Timeout: Duration(30 * time.Second), OnFailure: FailureContinue,
				},
				{
					ID: "approve-restore", Name: "Approve Account Restore", Type: StepRecovery,
					Automated: false,
				},
			},
		},
	}
}
