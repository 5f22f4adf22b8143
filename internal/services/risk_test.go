package services

import (
	"testing"
)

func newTestClassifier() *RiskClassifier {
	return NewRiskClassifier(nil, true, true)
}

func TestClassifyTiers(t *testing.T) {
	c := newTestClassifier()

	tests := []struct {
		command string
		level   RiskLevel
		risky   bool
	}{
		{"rm -rf /tmp/x", RiskCritical, true},
		{"mkfs.ext4 /dev/sdb1", RiskCritical, true},
		{"dd if=/dev/zero of=/dev/sda", RiskCritical, true},
		{"shutdown -h now", RiskCritical, true},
		{"chmod 777 /var/www", RiskCritical, true},
		{"sudo apt update", RiskHigh, true},
		{"kill -9 1234", RiskHigh, true},
		{"iptables -F", RiskHigh, true},
		{"crontab -e", RiskHigh, true},
		{"pip install requests", RiskMedium, false},
		{"curl https://example.com", RiskMedium, false},
		{"git push --force origin main", RiskMedium, false},
		{"mv a.txt b.txt", RiskLow, false},
		{"mkdir build", RiskLow, false},
		{"ls -la", RiskLow, false},
		{"echo hello", RiskLow, false},
	}

	for _, tt := range tests {
		got := c.Classify(tt.command)
		if got.RiskLevel != tt.level {
			t.Errorf("Classify(%q).RiskLevel = %q, want %q", tt.command, got.RiskLevel, tt.level)
		}
		if got.IsRisky != tt.risky {
			t.Errorf("Classify(%q).IsRisky = %v, want %v", tt.command, got.IsRisky, tt.risky)
		}
	}
}

func TestClassifyConfirmationFollowsRisk(t *testing.T) {
	c := newTestClassifier()

	risky := c.Classify("rm -rf /etc/nginx")
	if !risky.RequiresConfirmation {
		t.Error("critical command should require confirmation")
	}
	if !risky.BackupRecommended {
		t.Error("critical command should recommend a backup")
	}

	safe := c.Classify("ls -la")
	if safe.RequiresConfirmation {
		t.Error("safe command should not require confirmation")
	}
	if safe.BackupRecommended {
		t.Error("safe command should not recommend a backup")
	}
}

func TestClassifyCriticalShortCircuits(t *testing.T) {
	c := newTestClassifier()

	// "sudo rm -rf" matches both a critical pattern and a high rule;
	// the most severe tier must win.
	got := c.Classify("sudo rm -rf /var/log")
	if got.RiskLevel != RiskCritical {
		t.Errorf("RiskLevel = %q, want %q", got.RiskLevel, RiskCritical)
	}
}

func TestClassifyConfiguredPatternsOverride(t *testing.T) {
	c := NewRiskClassifier([]string{"danger-zone"}, true, true)

	if got := c.Classify("run danger-zone now"); got.RiskLevel != RiskCritical {
		t.Errorf("custom pattern not applied, got %q", got.RiskLevel)
	}
	// The built-in table is replaced, not extended.
	if got := c.Classify("rm -rf /tmp/x"); got.RiskLevel != RiskLow {
		t.Errorf("expected low tier once built-ins are replaced, got %q", got.RiskLevel)
	}
}

func TestClassifyDisabledConfirmation(t *testing.T) {
	c := NewRiskClassifier(nil, false, false)
	got := c.Classify("rm -rf /tmp/x")
	if got.RequiresConfirmation {
		t.Error("confirmation should be disabled by configuration")
	}
	if got.BackupRecommended {
		t.Error("backup should be disabled by configuration")
	}
}

func TestClassifyNormalizesInput(t *testing.T) {
	c := newTestClassifier()
	if got := c.Classify("  RM -RF /tmp/x  "); got.RiskLevel != RiskCritical {
		t.Errorf("classification should be case-insensitive, got %q", got.RiskLevel)
	}
}

func TestExtractPaths(t *testing.T) {
	tests := []struct {
		command string
		want    []string
	}{
		{`rm -rf /tmp/x`, []string{"/tmp/x"}},
		{`cp "/etc/my config" /tmp/out`, []string{"/etc/my config", "/tmp/out"}},
		{`cat ./notes.txt ../shared/readme.md`, []string{"./notes.txt", "../shared/readme.md"}},
		{`del C:\Users\admin\file.txt`, []string{`C:\Users\admin\file.txt`}},
		{`echo hello`, nil},
	}

	for _, tt := range tests {
		got := extractPaths(tt.command)
		if len(got) != len(tt.want) {
			t.Errorf("extractPaths(%q) = %v, want %v", tt.command, got, tt.want)
			continue
		}
		found := make(map[string]bool)
		for _, p := range got {
			found[p] = true
		}
		for _, p := range tt.want {
			if !found[p] {
				t.Errorf("extractPaths(%q) missing %q (got %v)", tt.command, p, got)
			}
		}
	}
}

func TestExtractPathsDeduplicates(t *testing.T) {
	got := extractPaths("cp /tmp/a /tmp/a")
	if len(got) != 1 {
		t.Errorf("expected 1 unique path, got %v", got)
	}
}
