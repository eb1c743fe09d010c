package validation

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	// DevicePathRegex matches capture device nodes
	DevicePathRegex = regexp.MustCompile(`^/dev/[a-zA-Z0-9_/-]+$`)

	// StageRegex matches a filter stage with an optional numeric argument
	StageRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*(=[0-9]+(\.[0-9]+)?)?$`)
)

var (
	sourceSchemes = map[string]bool{"tcp": true, "rtp": true, "udp": true}
	sinkSchemes   = map[string]bool{"tcp": true, "rtp": true, "udp": true}
)

// ValidateSourceLocator validates a capture device path or a streamed
// source URL
func ValidateSourceLocator(locator string) error {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return fmt.Errorf("source is required")
	}
	if path, ok := strings.CutPrefix(locator, "v4l2://"); ok {
		locator = path
	}
	if strings.HasPrefix(locator, "/dev/") {
		if !DevicePathRegex.MatchString(locator) {
			return fmt.Errorf("invalid device path %q", locator)
		}
		return nil
	}
	return validateNetworkURL(locator, sourceSchemes, "source")
}

// ValidateSinkLocator validates a publishing endpoint URL
func ValidateSinkLocator(locator string) error {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return fmt.Errorf("sink is required")
	}
	return validateNetworkURL(locator, sinkSchemes, "sink")
}

func validateNetworkURL(raw string, schemes map[string]bool, field string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s URL: %w", field, err)
	}
	if !schemes[u.Scheme] {
		return fmt.Errorf("invalid %s scheme %q", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s URL must have host:port", field)
	}
	_, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		return fmt.Errorf("%s URL must have host:port: %w", field, err)
	}
	return ValidatePort(port)
}

// ValidatePort validates a TCP/UDP port number
func ValidatePort(port string) error {
	p, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid port %q", port)
	}
	if p < 0 || p > 65535 {
		return fmt.Errorf("port %d out of range", p)
	}
	return nil
}

// ValidateStage validates one transform stage such as "fps=25"
func ValidateStage(stage string) error {
	if !StageRegex.MatchString(strings.TrimSpace(stage)) {
		return fmt.Errorf("invalid stage %q", stage)
	}
	return nil
}

// ValidateFrameRate validates a frame rate in frames per second
func ValidateFrameRate(fps float64) error {
	if fps <= 0 {
		return fmt.Errorf("frame rate must be > 0")
	}
	if fps > 240 {
		return fmt.Errorf("frame rate is too high (max 240)")
	}
	return nil
}

// ValidateBitrate validates a target bitrate in bits per second; zero
// leaves the choice to the codec
func ValidateBitrate(bitrate int) error {
	if bitrate == 0 {
		return nil
	}
	if bitrate < 10_000 {
		return fmt.Errorf("bitrate must be at least 10 kbps")
	}
	if bitrate > 100_000_000 {
		return fmt.Errorf("bitrate is too high (max 100 Mbps)")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}
