package update

import (
	"fmt"
	"updatehub/internal/models"
)

// supportedOS lists the operating systems update packages are built for.
var supportedOS = map[string]bool{
	"windows": true,
	"darwin":  true,
	"linux":   true,
}

const (
	minMemoryMB     = 512
	diskHeadroomFac = 2
)

// checkCompatibility runs each rule independently and aggregates the
// findings. Rules never short-circuit each other: a report lists everything
// wrong, not just the first problem. The upgrade can proceed as long as no
// finding is critical; warningLevel is the highest severity seen.
func checkCompatibility(release *models.Release, info models.SystemInfo) *models.CompatibilityReport {
	report := &models.CompatibilityReport{
		TargetVersion: release.Version,
		CanProceed:    true,
	}

	addIssue := func(severity, rule, message string) {
		report.Issues = append(report.Issues, models.CompatibilityIssue{
			Severity: severity,
			Rule:     rule,
			Message:  message,
		})
		if severity == models.SeverityCritical {
			report.CanProceed = false
		}
		if models.SeverityRank(severity) > models.SeverityRank(report.WarningLevel) {
			report.WarningLevel = severity
		}
	}

	if release.MinimumVersion != "" && info.ClientVersion != "" {
		if models.CompareVersions(info.ClientVersion, release.MinimumVersion) < 0 {
			addIssue(models.SeverityCritical, "minimum_version",
				fmt.Sprintf("client version %s is below the minimum %s required for a direct upgrade",
					info.ClientVersion, release.MinimumVersion))
		}
	}

	if info.ClientVersion != "" {
		if current, err := models.ParseVersion(info.ClientVersion); err == nil {
			if target, err := models.ParseVersion(release.Version); err == nil && target.Major-current.Major >= 2 {
				addIssue(models.SeverityWarning, "major_jump",
					fmt.Sprintf("upgrading across %d major versions; intermediate upgrades are recommended",
						target.Major-current.Major))
			}
		}
	}

	switch {
	case info.OS == "":
		addIssue(models.SeverityInfo, "os", "operating system not reported")
	case !supportedOS[info.OS]:
		addIssue(models.SeverityCritical, "os",
			fmt.Sprintf("operating system %q is not supported", info.OS))
	}

	if info.RuntimeVersion == "" {
		addIssue(models.SeverityInfo, "runtime", "runtime version not reported")
	}

	if info.MemoryMB > 0 && info.MemoryMB < minMemoryMB {
		addIssue(models.SeverityWarning, "memory",
			fmt.Sprintf("system reports %d MB of memory, below the recommended %d MB", info.MemoryMB, minMemoryMB))
	}

	if info.DiskMB > 0 && release.FileSize > 0 {
		requiredMB := diskHeadroomFac * (release.FileSize / (1024 * 1024))
		if requiredMB == 0 {
			requiredMB = 1
		}
		if info.DiskMB < requiredMB {
			addIssue(models.SeverityCritical, "disk",
				fmt.Sprintf("at least %d MB of free disk is needed to download and unpack, %d MB reported",
					requiredMB, info.DiskMB))
		}
	}

	if report.WarningLevel == "" {
		report.WarningLevel = models.SeverityInfo
	}
	return report
}
