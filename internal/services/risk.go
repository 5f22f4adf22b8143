package services

import (
	"regexp"
	"strings"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskAssessment is the result of classifying a command. It is derived,
// stateless, and recomputed on every submission.
type RiskAssessment struct {
	Command              string    `json:"command"`
	IsRisky              bool      `json:"is_risky"`
	RiskLevel            RiskLevel `json:"risk_level"`
	Reason               string    `json:"reason"`
	AffectedPaths        []string  `json:"affected_paths"`
	RequiresConfirmation bool      `json:"requires_confirmation"`
	BackupRecommended    bool      `json:"backup_recommended"`
}

type riskRule struct {
	level   RiskLevel
	pattern string
	reason  string
}

// defaultCriticalPatterns can be replaced through configuration.
var defaultCriticalPatterns = []string{
	"rm -rf", "del /f /s /q", "format", "fdisk",
	"mkfs", "dd if=", "shutdown", "reboot",
	"chmod 777", "chown", "> /dev/", "registry delete",
	"reg delete", "net user", "takeown", "icacls",
}

// riskRules is matched in order, most severe tier first. The first
// matching rule wins.
var riskRules = []riskRule{
	{RiskHigh, "sudo", "Elevated privileges requested"},
	{RiskHigh, "runas", "Elevated privileges requested"},
	{RiskHigh, "kill -9", "Force kill process"},
	{RiskHigh, "taskkill /f", "Force terminate process"},
	{RiskHigh, "netsh", "Network configuration change"},
	{RiskHigh, "iptables", "Firewall modification"},
	{RiskHigh, "schtasks", "Scheduled task modification"},
	{RiskHigh, "crontab", "Cron job modification"},
	{RiskMedium, "pip install", "Package installation"},
	{RiskMedium, "npm install -g", "Global package installation"},
	{RiskMedium, "apt install", "System package installation"},
	{RiskMedium, "yum install", "System package installation"},
	{RiskMedium, "wget", "File download from internet"},
	{RiskMedium, "curl", "Network request"},
	{RiskMedium, "git push --force", "Force push to repository"},
	{RiskLow, "mv", "File move operation"},
	{RiskLow, "cp", "File copy operation"},
	{RiskLow, "mkdir", "Directory creation"},
	{RiskLow, "touch", "File creation"},
}

var pathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"([^"]+)"`),              // double-quoted paths
	regexp.MustCompile(`'([^']+)'`),              // single-quoted paths
	regexp.MustCompile(`\s(/[^\s]+)`),            // Unix absolute paths
	regexp.MustCompile(`\s([A-Za-z]:\\[^\s]+)`),  // Windows absolute paths
	regexp.MustCompile(`\s(\.{1,2}/[^\s]+)`),     // relative paths
}

// RiskClassifier maps a command string to a risk tier. Pure and total:
// Classify never fails and holds no state between calls.
type RiskClassifier struct {
	criticalPatterns  []string
	requireConfirm    bool
	backupRecommended bool
}

// NewRiskClassifier builds a classifier. criticalPatterns overrides the
// built-in critical table when non-empty.
func NewRiskClassifier(criticalPatterns []string, requireConfirm, autoBackup bool) *RiskClassifier {
	patterns := criticalPatterns
	if len(patterns) == 0 {
		patterns = defaultCriticalPatterns
	}
	return &RiskClassifier{
		criticalPatterns:  patterns,
		requireConfirm:    requireConfirm,
		backupRecommended: autoBackup,
	}
}

// Classify evaluates a command. A command is risky iff its tier is
// high or critical.
func (c *RiskClassifier) Classify(command string) RiskAssessment {
	normalized := strings.ToLower(strings.TrimSpace(command))

	level := RiskLow
	reason := "Standard command"
	matched := false

	for _, dangerous := range c.criticalPatterns {
		if strings.Contains(normalized, strings.ToLower(dangerous)) {
			level = RiskCritical
			reason = "Contains dangerous pattern: " + dangerous
			matched = true
			break
		}
	}

	if !matched {
		for _, rule := range riskRules {
			if strings.Contains(normalized, rule.pattern) {
				level = rule.level
				reason = rule.reason
				break
			}
		}
	}

	isRisky := level == RiskHigh || level == RiskCritical

	return RiskAssessment{
		Command:              command,
		IsRisky:              isRisky,
		RiskLevel:            level,
		Reason:               reason,
		AffectedPaths:        extractPaths(command),
		RequiresConfirmation: isRisky && c.requireConfirm,
		BackupRecommended:    isRisky && c.backupRecommended,
	}
}

// extractPaths scans the raw command text for filesystem paths the
// command could affect. Heuristic, for backup targeting only.
func extractPaths(command string) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, re := range pathPatterns {
		for _, m := range re.FindAllStringSubmatch(command, -1) {
			p := m[1]
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}
	return paths
}
