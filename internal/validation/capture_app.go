// Package validation checks companion capture app compatibility before a
// session starts, so users get actionable guidance instead of opaque
// websocket errors.
package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ValidationResult contains the result of a capture app compatibility check.
type ValidationResult struct {
	OK       bool
	Message  string
	Issues   []string
	Warnings []string
	Fixes    []string
}

// ValidateAppVersion checks whether the capture app version meets the
// minimum requirement (1.0+, the first release with the control protocol).
func ValidateAppVersion(versionString string) *ValidationResult {
	result := &ValidationResult{OK: true}

	re := regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)
	matches := re.FindStringSubmatch(versionString)

	if len(matches) < 4 {
		result.OK = false
		result.Message = fmt.Sprintf("Could not parse capture app version: %s", versionString)
		result.Issues = append(result.Issues, "Invalid version format")
		result.Fixes = append(result.Fixes, "Update the capture app to the latest release")
		return result
	}

	major, _ := strconv.Atoi(matches[1])
	minor, _ := strconv.Atoi(matches[2])

	if major < 1 {
		result.OK = false
		result.Issues = append(result.Issues, fmt.Sprintf("capture app version %d.%d is too old (requires 1.0+)", major, minor))
		result.Fixes = append(result.Fixes, "Update the capture app to version 1.0 or later")
		result.Message = fmt.Sprintf("capture app %d.%d requires update to 1.0+", major, minor)
		return result
	}

	result.Message = fmt.Sprintf("capture app %d.%d is compatible (requires 1.0+)", major, minor)
	return result
}

// validateRPCVersion checks that the capture app speaks protocol version 1.
func validateRPCVersion(rpcVersion int) *ValidationResult {
	result := &ValidationResult{OK: true}

	if rpcVersion != 1 {
		result.OK = false
		result.Issues = append(result.Issues, fmt.Sprintf("protocol version %d detected (requires 1)", rpcVersion))
		result.Fixes = append(result.Fixes, "Update signcoach-core and the capture app to matching releases")
		result.Message = fmt.Sprintf("protocol version %d is incompatible", rpcVersion)
		return result
	}

	result.Message = fmt.Sprintf("protocol version %d is compatible", rpcVersion)
	return result
}

// CheckCaptureAppHealth performs a combined capture app compatibility check.
func CheckCaptureAppHealth(appVersion string, rpcVersion int) *ValidationResult {
	result := &ValidationResult{OK: true}
	var messages []string

	versionCheck := ValidateAppVersion(appVersion)
	if !versionCheck.OK {
		result.OK = false
		result.Issues = append(result.Issues, versionCheck.Issues...)
		result.Fixes = append(result.Fixes, versionCheck.Fixes...)
	}
	messages = append(messages, versionCheck.Message)

	rpcCheck := validateRPCVersion(rpcVersion)
	if !rpcCheck.OK {
		result.OK = false
		result.Issues = append(result.Issues, rpcCheck.Issues...)
		result.Fixes = append(result.Fixes, rpcCheck.Fixes...)
	}
	messages = append(messages, rpcCheck.Message)

	result.Message = strings.Join(messages, " | ")

	if result.OK {
		result.Message = "capture app health check passed: " + result.Message
	} else {
		result.Message = "capture app health check FAILED: " + result.Message
	}

	return result
}

// SuggestedFixes returns user-facing troubleshooting steps for common
// capture app errors.
func SuggestedFixes(errorCode int, errorMsg string) []string {
	var fixes []string

	switch errorCode {
	case 204:
		fixes = append(fixes, "Capture app rejected the request (code 204: InvalidRequest)")
		fixes = append(fixes, "This usually means the app and signcoach-core are from different releases")
		fixes = append(fixes, "Update both to matching versions and restart")

	case 203:
		fixes = append(fixes, "Capture app request timed out (code 203)")
		fixes = append(fixes, "The app may be busy or frozen; restart it and try again")

	default:
		if strings.Contains(errorMsg, "not connected") {
			fixes = append(fixes, "Cannot connect to the capture app websocket")
			fixes = append(fixes, "Verify the app is running and its control server is enabled")
			fixes = append(fixes, "Check that the configured port is not blocked by a firewall")
		} else {
			fixes = append(fixes, fmt.Sprintf("Error: %s", errorMsg))
			fixes = append(fixes, "Check logs for more details")
		}
	}

	return fixes
}
